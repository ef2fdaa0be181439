package source

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestScheme(t *testing.T) {
	assert.Equal(t, "file", Scheme("/data/catalog.json"))
	assert.Equal(t, "file", Scheme("file:///data/catalog.json"))
	assert.Equal(t, "https", Scheme("https://stac.example.com/catalog.json"))
	assert.Equal(t, "s3", Scheme("s3://bucket/key"))
	assert.Equal(t, "s3", Scheme("S3://bucket/key"))
}

func TestJoinURI(t *testing.T) {
	assert.Equal(t, "s3://bucket/dir/name", JoinURI("s3://bucket/dir", "name"))
	assert.Equal(t, "s3://bucket/dir/name", JoinURI("s3://bucket/dir/", "/name"))
	assert.Equal(t, "/data/name", JoinURI("/data/", "name"))
}

func TestParentDir(t *testing.T) {
	assert.Equal(t, "s3://bucket/dir", ParentDir("s3://bucket/dir/catalog.json"))
	assert.Equal(t, "s3://bucket/dir", ParentDir("s3://bucket/dir/sub/"))
	assert.Equal(t, "/data", ParentDir("/data/catalog.json"))
}

func TestResolveHref(t *testing.T) {
	doc := "https://stac.example.com/catalogs/root/catalog.json"

	// Relative hrefs resolve against the document's directory.
	assert.Equal(t, "https://stac.example.com/catalogs/root/child/catalog.json",
		ResolveHref(doc, "./child/catalog.json"))
	assert.Equal(t, "https://stac.example.com/catalogs/other.json",
		ResolveHref(doc, "../other.json"))

	// Absolute hrefs pass through untouched.
	assert.Equal(t, "https://elsewhere.example.com/catalog.json",
		ResolveHref(doc, "https://elsewhere.example.com/catalog.json"))
	assert.Equal(t, "/data/catalog.json", ResolveHref(doc, "/data/catalog.json"))
}

func TestSimplifyPath(t *testing.T) {
	assert.Equal(t, "s3://bucket/a/c", SimplifyPath("s3://bucket/a/b/../c"))
	assert.Equal(t, "s3://bucket/c", SimplifyPath("s3://bucket/a/./../c"))
	assert.Equal(t, "/a/c", SimplifyPath("/a/./b/../c"))
	// The authority is never consumed by "..".
	assert.Equal(t, "s3://bucket/c", SimplifyPath("s3://bucket/a/../../c"))
	// A bare host URI has no path to simplify.
	assert.Equal(t, "https://example.com", SimplifyPath("https://example.com"))
}

func TestSimplifyPathIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	segment := gen.OneConstOf("a", "b", "c", ".", "..")
	properties.Property("simplify is idempotent", prop.ForAll(
		func(segs []string) bool {
			uri := "s3://bucket/" + strings.Join(segs, "/")
			once := SimplifyPath(uri)
			return SimplifyPath(once) == once
		},
		gen.SliceOf(segment),
	))
	properties.Property("simplified paths contain no dot segments", prop.ForAll(
		func(segs []string) bool {
			uri := "s3://bucket/" + strings.Join(segs, "/")
			for _, seg := range strings.Split(SimplifyPath(uri), "/") {
				if seg == "." || seg == ".." {
					return false
				}
			}
			return true
		},
		gen.SliceOf(segment),
	))

	properties.TestingRun(t)
}
