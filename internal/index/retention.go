package index

import (
	"context"
	"log"
	"regexp"
	"sort"
	"strings"

	"github.com/stacdex/stacdex/internal/config"
	"github.com/stacdex/stacdex/internal/source"
)

// snapshotDirPattern matches the trailing snapshot directory component of
// an index-run prefix. The timestamp prefix makes lexicographic order equal
// chronological order.
var snapshotDirPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}\.\d{2}\.\d{2}\.\d{6}Z-[a-z0-9]{32}/?$`)

// Retain deletes all but the keep most recent snapshot directories under
// baseURI. Values below 1 are refused and fall back to the default.
func Retain(ctx context.Context, sources *source.Registry, baseURI string, keep int) error {
	if keep < 1 {
		log.Printf("index: refusing retention of %d snapshots, keeping %d", keep, config.DefaultRetainIndexes)
		keep = config.DefaultRetainIndexes
	}

	dirs, err := sources.ListDirs(ctx, baseURI)
	if err != nil {
		return err
	}

	var snapshots []string
	for _, dir := range dirs {
		if snapshotDirPattern.MatchString(strings.TrimSuffix(dir, "/") + "/") {
			snapshots = append(snapshots, dir)
		}
	}
	sort.Strings(snapshots)

	if len(snapshots) <= keep {
		return nil
	}
	for _, dir := range snapshots[:len(snapshots)-keep] {
		log.Printf("index: retention deleting snapshot %s", dir)
		if err := sources.DeletePrefix(ctx, dir); err != nil {
			return err
		}
	}
	return nil
}
