package storage

import (
	"context"
	"sort"
	"strings"
	"time"
)

// FindLatestPath returns the key of the newest file under basePrefix whose key
// contains filePattern.
//
// Algorithm:
//   - list immediate child prefixes of basePrefix (delimiter "/") and keep
//     only TimestampLayout-shaped ones; the discovery root can hold non-run
//     prefixes (the output/ subtree nests under the input root) and those
//     must never be mistaken for the newest run
//   - no timestamped prefixes: treat basePrefix as a flat listing and return
//     the first file matching the pattern
//   - otherwise walk prefixes newest-first (descending lexicographic order,
//     correct because prefixes are TimestampLayout-formatted) and return the
//     first matching file; a newest prefix with no match falls through to the
//     next-older one
//
// "Nothing found" is a normal outcome (empty bucket, empty run) and is
// reported as ok=false with a nil error. Storage errors propagate as-is; the
// caller decides whether they are fatal.
func FindLatestPath(ctx context.Context, store ObjectStore, basePrefix, filePattern string) (key string, ok bool, err error) {
	listing, err := store.List(ctx, basePrefix, "/")
	if err != nil {
		return "", false, err
	}

	prefixes := timestampedPrefixes(listing.Prefixes)
	if len(prefixes) == 0 {
		if k, found := firstMatch(listing.Files, filePattern); found {
			return k, true, nil
		}
		return "", false, nil
	}

	sort.Sort(sort.Reverse(sort.StringSlice(prefixes)))

	for _, p := range prefixes {
		sub, err := store.List(ctx, p, "")
		if err != nil {
			return "", false, err
		}
		if k, found := firstMatch(sub.Files, filePattern); found {
			return k, true, nil
		}
	}

	return "", false, nil
}

// timestampedPrefixes keeps only prefixes whose final path segment is a
// TimestampLayout stamp.
func timestampedPrefixes(prefixes []string) []string {
	var out []string
	for _, p := range prefixes {
		seg := strings.TrimSuffix(p, "/")
		if i := strings.LastIndex(seg, "/"); i >= 0 {
			seg = seg[i+1:]
		}
		if len(seg) != len(TimestampLayout) {
			continue
		}
		if _, err := time.Parse(TimestampLayout, seg); err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}

func firstMatch(files []string, pattern string) (string, bool) {
	for _, f := range files {
		if strings.Contains(f, pattern) {
			return f, true
		}
	}
	return "", false
}
