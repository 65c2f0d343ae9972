package traverse

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"
)

// buildTree creates a fixture tree under a temp dir. Entries ending in "/"
// become directories, everything else becomes a small file.
func buildTree(t testing.TB, entries ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, e := range entries {
		full := filepath.Join(root, e)
		if strings.HasSuffix(e, "/") {
			if err := os.MkdirAll(full, 0o755); err != nil {
				t.Fatalf("MkdirAll(%s): %v", e, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("MkdirAll(%s): %v", e, err)
		}
		if err := os.WriteFile(full, []byte("test"), 0o644); err != nil {
			t.Fatalf("WriteFile(%s): %v", e, err)
		}
	}
	return root
}

// collect walks root and returns the delivered paths relative to it, along
// with any entry-scoped errors.
func collect(t *testing.T, root string, opts Options) ([]string, []error) {
	t.Helper()
	var paths []string
	var errs []error
	err := WalkWithOptions(context.Background(), []string{root}, opts, func(v *Visit, err error) Action {
		if err != nil {
			errs = append(errs, err)
			return Continue
		}
		rel, relErr := filepath.Rel(root, v.Path())
		if relErr != nil {
			t.Fatalf("Rel(%s): %v", v.Path(), relErr)
		}
		paths = append(paths, rel)
		return Continue
	})
	if err != nil {
		t.Fatalf("WalkWithOptions failed: %v", err)
	}
	return paths, errs
}

func TestWalkVisitsEverything(t *testing.T) {
	root := buildTree(t,
		"file1.txt",
		"file2.txt",
		"dir1/file3.go",
		"dir1/subdir1/file4.go",
		"dir2/subdir2/",
	)

	paths, errs := collect(t, root, Options{})
	if len(errs) != 0 {
		t.Fatalf("Expected no errors, got %v", errs)
	}

	want := []string{".", "dir1", "dir1/file3.go", "dir1/subdir1", "dir1/subdir1/file4.go",
		"dir2", "dir2/subdir2", "file1.txt", "file2.txt"}
	got := append([]string(nil), paths...)
	sort.Strings(got)
	if len(got) != len(want) {
		t.Fatalf("Expected %d entries, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected entry %q, got %q", want[i], got[i])
		}
	}
}

func TestBFSOrdering(t *testing.T) {
	root := buildTree(t,
		"a.txt",
		"b/",
		"b/c.txt",
		"b/d/",
		"b/d/e.txt",
	)

	var depths []int
	err := WalkWithOptions(context.Background(), []string{root}, Options{Order: OrderBFS}, func(v *Visit, err error) Action {
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		depths = append(depths, v.Depth())
		return Continue
	})
	if err != nil {
		t.Fatalf("WalkWithOptions failed: %v", err)
	}

	for i := 1; i < len(depths); i++ {
		if depths[i] < depths[i-1] {
			t.Fatalf("BFS delivered depth %d after depth %d (sequence %v)", depths[i], depths[i-1], depths)
		}
	}
}

// TestBFSOrderingSmallBudget verifies strict depth order survives handle
// eviction and reopening.
func TestBFSOrderingSmallBudget(t *testing.T) {
	root := buildTree(t,
		"d1/d2/d3/d4/deep.txt",
		"d1/x.txt",
		"e1/e2/y.txt",
		"f.txt",
	)

	for _, budget := range []int{2, 3} {
		var depths []int
		opts := Options{Order: OrderBFS, MaxOpenDirs: budget}
		err := WalkWithOptions(context.Background(), []string{root}, opts, func(v *Visit, err error) Action {
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			depths = append(depths, v.Depth())
			return Continue
		})
		if err != nil {
			t.Fatalf("WalkWithOptions(budget=%d) failed: %v", budget, err)
		}
		for i := 1; i < len(depths); i++ {
			if depths[i] < depths[i-1] {
				t.Fatalf("budget %d: depth %d delivered after %d", budget, depths[i], depths[i-1])
			}
		}
	}
}

// TestDFSPreOrder checks that every delivery's parent directory is on the
// current ancestor chain, which holds exactly when subtrees are delivered
// as contiguous blocks.
func TestDFSPreOrder(t *testing.T) {
	root := buildTree(t,
		"a/x.txt",
		"a/b/y.txt",
		"c/z.txt",
		"top.txt",
	)

	var stack []string
	err := WalkWithOptions(context.Background(), []string{root}, Options{Order: OrderDFS}, func(v *Visit, err error) Action {
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		dir := filepath.Dir(v.Path())
		for len(stack) > 0 && stack[len(stack)-1] != dir {
			stack = stack[:len(stack)-1]
		}
		if v.Depth() > 0 && len(stack) == 0 {
			t.Fatalf("Entry %s delivered outside its parent's subtree block", v.Path())
		}
		if v.Type() == TypeDir {
			stack = append(stack, v.Path())
		}
		return Continue
	})
	if err != nil {
		t.Fatalf("WalkWithOptions failed: %v", err)
	}
}

func TestPostOrder(t *testing.T) {
	root := buildTree(t,
		"a/x.txt",
		"a/b/y.txt",
		"c/z.txt",
	)

	seen := make(map[string]int)
	var order []string
	err := WalkWithOptions(context.Background(), []string{root}, Options{Order: OrderPostOrder}, func(v *Visit, err error) Action {
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		seen[v.Path()] = len(order)
		order = append(order, v.Path())
		return Continue
	})
	if err != nil {
		t.Fatalf("WalkWithOptions failed: %v", err)
	}

	for path, idx := range seen {
		if path == root {
			continue
		}
		parentIdx, ok := seen[filepath.Dir(path)]
		if !ok {
			t.Fatalf("Parent of %s never delivered", path)
		}
		if parentIdx < idx {
			t.Errorf("Post-order delivered %s before its child %s", filepath.Dir(path), path)
		}
	}
	if idx, ok := seen[root]; !ok || idx != len(order)-1 {
		t.Errorf("Expected root delivered last, got index %d of %d", idx, len(order))
	}
}

func TestDescriptorBound(t *testing.T) {
	root := buildTree(t,
		"a/b/c/d/e/f/deep.txt",
		"a/b/side.txt",
		"g/h/i/j/other.txt",
		"k/l/",
		"m/n/o/p/q/r/s/deepest.txt",
	)

	for _, budget := range []int{2, 3, 5} {
		stats := &Stats{}
		opts := Options{MaxOpenDirs: budget, Stats: stats}
		if _, errs := collectOpts(t, root, opts); len(errs) != 0 {
			t.Fatalf("budget %d: unexpected errors %v", budget, errs)
		}
		if stats.PeakOpenHandles > budget {
			t.Errorf("budget %d: peak open handles %d exceeds budget", budget, stats.PeakOpenHandles)
		}
		if stats.HandleEvictions == 0 {
			t.Errorf("budget %d: expected evictions on a deep tree, got none", budget)
		}
	}
}

// collectOpts is collect for callers that bring their own Options.
func collectOpts(t *testing.T, root string, opts Options) ([]string, []error) {
	t.Helper()
	return collect(t, root, opts)
}

// TestReopenCoverage forces the tightest budget and verifies the walk
// still covers exactly what an effectively unbounded budget covers.
func TestReopenCoverage(t *testing.T) {
	root := buildTree(t,
		"a/b/c/one.txt",
		"a/b/two.txt",
		"a/three.txt",
		"d/e/four.txt",
		"d/five.txt",
		"six.txt",
		"g/h/i/j/k/seven.txt",
	)

	tight, errs := collect(t, root, Options{MaxOpenDirs: 1})
	if len(errs) != 0 {
		t.Fatalf("tight budget: unexpected errors %v", errs)
	}
	wide, errs := collect(t, root, Options{MaxOpenDirs: 1 << 20})
	if len(errs) != 0 {
		t.Fatalf("wide budget: unexpected errors %v", errs)
	}

	sort.Strings(tight)
	sort.Strings(wide)
	if len(tight) != len(wide) {
		t.Fatalf("Coverage differs: %d entries with budget 1, %d unbounded", len(tight), len(wide))
	}
	for i := range tight {
		if tight[i] != wide[i] {
			t.Errorf("Coverage differs at %d: %q vs %q", i, tight[i], wide[i])
		}
	}
}

func TestSymlinkLoop(t *testing.T) {
	root := buildTree(t, "a/b/file.txt")
	if err := os.Symlink(filepath.Join(root, "a"), filepath.Join(root, "a", "b", "loop")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	var loops int
	var delivered int
	err := WalkWithOptions(context.Background(), []string{root}, Options{FollowAll: true}, func(v *Visit, err error) Action {
		var terr *Error
		if errors.As(err, &terr) && terr.Kind == KindSymlinkLoop {
			loops++
			return Continue
		}
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		delivered++
		if delivered > 100 {
			t.Fatal("Traversal did not terminate")
		}
		return Continue
	})
	if err != nil {
		t.Fatalf("WalkWithOptions failed: %v", err)
	}

	if loops != 1 {
		t.Errorf("Expected exactly 1 symlink loop error, got %d", loops)
	}
	// root, a, a/b, a/b/file.txt
	if delivered != 4 {
		t.Errorf("Expected 4 delivered entries, got %d", delivered)
	}
}

func TestDepthWindow(t *testing.T) {
	root := buildTree(t,
		"l1a.txt",
		"l1b/l2a.txt",
		"l1b/l2b/l3a.txt",
	)

	paths, errs := collect(t, root, Options{MinDepth: 1, MaxDepth: 2})
	if len(errs) != 0 {
		t.Fatalf("Unexpected errors: %v", errs)
	}

	want := map[string]bool{
		"l1a.txt": true, "l1b": true,
		"l1b/l2a.txt": true, "l1b/l2b": true,
	}
	if len(paths) != len(want) {
		t.Fatalf("Expected %d entries in window, got %d: %v", len(want), len(paths), paths)
	}
	for _, p := range paths {
		if !want[p] {
			t.Errorf("Entry %q delivered outside depth window", p)
		}
	}
}

func TestEarlyStop(t *testing.T) {
	root := buildTree(t,
		"a/one.txt",
		"b/two.txt",
		"c/three.txt",
		"d/four.txt",
	)

	const stopAfter = 3
	stats := &Stats{}
	var delivered, acquiresAtStop int
	err := WalkWithOptions(context.Background(), []string{root}, Options{Stats: stats}, func(v *Visit, err error) Action {
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		delivered++
		if delivered == stopAfter {
			acquiresAtStop = stats.HandleAcquires
			return Stop
		}
		return Continue
	})
	if err != nil {
		t.Fatalf("WalkWithOptions failed: %v", err)
	}

	if delivered != stopAfter {
		t.Errorf("Expected exactly %d deliveries, got %d", stopAfter, delivered)
	}
	if stats.HandleAcquires != acquiresAtStop {
		t.Errorf("Expected no handle acquisitions after stop, got %d more",
			stats.HandleAcquires-acquiresAtStop)
	}
}

func TestPrune(t *testing.T) {
	root := buildTree(t,
		"keep/file.txt",
		"skip/file.txt",
		"skip/deeper/more.txt",
	)

	var paths []string
	err := WalkWithOptions(context.Background(), []string{root}, Options{}, func(v *Visit, err error) Action {
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if v.Name() == "skip" {
			return Prune
		}
		paths = append(paths, v.Path())
		return Continue
	})
	if err != nil {
		t.Fatalf("WalkWithOptions failed: %v", err)
	}

	for _, p := range paths {
		if strings.Contains(p, "skip"+string(os.PathSeparator)) {
			t.Errorf("Entry %q delivered under pruned directory", p)
		}
	}
}

// TestStatAfterRemovalReportsVanished removes a file after it was
// enumerated but before its status fetch. The fetch must come back as a
// typed vanished error so race-tolerant consumers can suppress it.
func TestStatAfterRemovalReportsVanished(t *testing.T) {
	root := buildTree(t, "victim.txt", "stable.txt")

	statted := false
	err := WalkWithOptions(context.Background(), []string{root}, Options{IgnoreRaces: true}, func(v *Visit, err error) Action {
		if err != nil {
			t.Fatalf("Unexpected walk error: %v", err)
		}
		if v.Name() != "victim.txt" {
			return Continue
		}
		statted = true
		if rmErr := os.Remove(v.Path()); rmErr != nil {
			t.Fatalf("Remove: %v", rmErr)
		}
		_, serr := v.Stat(false)
		if serr == nil {
			t.Fatal("Stat succeeded on a removed entry")
		}
		var terr *Error
		if !errors.As(serr, &terr) {
			t.Fatalf("Stat error is not typed: %v", serr)
		}
		if terr.Kind != KindVanished {
			t.Errorf("Stat error kind = %v, want %v", terr.Kind, KindVanished)
		}
		if terr.Path != v.Path() {
			t.Errorf("Stat error path = %q, want %q", terr.Path, v.Path())
		}
		return Continue
	})
	if err != nil {
		t.Fatalf("WalkWithOptions failed: %v", err)
	}
	if !statted {
		t.Fatal("victim.txt was never delivered")
	}
}

// TestRaceTolerance removes a directory after it was discovered but before
// it was expanded.
func TestRaceTolerance(t *testing.T) {
	for _, ignore := range []bool{true, false} {
		root := buildTree(t, "vanishing/inner.txt", "stable.txt")

		var errs []error
		opts := Options{IgnoreRaces: ignore}
		err := WalkWithOptions(context.Background(), []string{root}, opts, func(v *Visit, err error) Action {
			if err != nil {
				errs = append(errs, err)
				return Continue
			}
			if v.Name() == "vanishing" {
				// Simulate a race: the directory disappears after
				// discovery, before its handle is opened.
				if rmErr := os.RemoveAll(v.Path()); rmErr != nil {
					t.Fatalf("RemoveAll: %v", rmErr)
				}
			}
			return Continue
		})
		if err != nil {
			t.Fatalf("WalkWithOptions failed: %v", err)
		}

		if ignore && len(errs) != 0 {
			t.Errorf("Race-tolerant mode reported errors: %v", errs)
		}
		if !ignore {
			if len(errs) != 1 {
				t.Fatalf("Expected 1 vanished-entry error, got %d: %v", len(errs), errs)
			}
			var terr *Error
			if !errors.As(errs[0], &terr) || terr.Kind != KindVanished {
				t.Errorf("Expected KindVanished, got %v", errs[0])
			}
		}
	}
}

func TestRootUnreachable(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does-not-exist")

	err := Walk(missing, func(v *Visit, err error) Action {
		t.Fatal("Visitor invoked for unreachable root")
		return Continue
	})
	var terr *Error
	if !errors.As(err, &terr) || terr.Kind != KindRootUnreachable {
		t.Fatalf("Expected KindRootUnreachable, got %v", err)
	}
}

func TestContinueOnRootError(t *testing.T) {
	good := buildTree(t, "file.txt")
	missing := filepath.Join(t.TempDir(), "gone")

	var rootErrs, delivered int
	opts := Options{ContinueOnRootError: true}
	err := WalkWithOptions(context.Background(), []string{missing, good}, opts, func(v *Visit, err error) Action {
		var terr *Error
		if errors.As(err, &terr) && terr.Kind == KindRootUnreachable {
			rootErrs++
			return Continue
		}
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		delivered++
		return Continue
	})
	if err != nil {
		t.Fatalf("WalkWithOptions failed: %v", err)
	}

	if rootErrs != 1 {
		t.Errorf("Expected 1 root error, got %d", rootErrs)
	}
	if delivered != 2 { // good root and its file
		t.Errorf("Expected 2 deliveries from the good root, got %d", delivered)
	}
}

func TestMultipleRoots(t *testing.T) {
	rootA := buildTree(t, "a.txt")
	rootB := buildTree(t, "b.txt", "sub/c.txt")

	var delivered int
	err := WalkWithOptions(context.Background(), []string{rootA, rootB}, Options{}, func(v *Visit, err error) Action {
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		delivered++
		return Continue
	})
	if err != nil {
		t.Fatalf("WalkWithOptions failed: %v", err)
	}

	if delivered != 6 { // rootA, a.txt, rootB, b.txt, sub, sub/c.txt
		t.Errorf("Expected 6 deliveries, got %d", delivered)
	}
}

func TestStatMemoization(t *testing.T) {
	root := buildTree(t, "target.txt")
	if err := os.Symlink("target.txt", filepath.Join(root, "link")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	stats := &Stats{}
	err := WalkWithOptions(context.Background(), []string{root}, Options{Stats: stats}, func(v *Visit, err error) Action {
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if v.Name() != "link" {
			return Continue
		}

		before := stats.StatCalls
		asIs, statErr := v.Stat(false)
		if statErr != nil {
			t.Fatalf("Stat(false): %v", statErr)
		}
		resolved, statErr := v.Stat(true)
		if statErr != nil {
			t.Fatalf("Stat(true): %v", statErr)
		}
		// Once per follow policy.
		if got := stats.StatCalls - before; got != 2 {
			t.Errorf("Expected 2 stat calls for both policies, got %d", got)
		}

		if _, statErr = v.Stat(false); statErr != nil {
			t.Fatalf("Stat(false) again: %v", statErr)
		}
		if _, statErr = v.Stat(true); statErr != nil {
			t.Fatalf("Stat(true) again: %v", statErr)
		}
		if got := stats.StatCalls - before; got != 2 {
			t.Errorf("Repeated Stat performed extra fetches: %d total", got)
		}

		if asIs.Type() != TypeSymlink {
			t.Errorf("Expected as-is type l, got %s", asIs.Type())
		}
		if resolved.Type() != TypeRegular {
			t.Errorf("Expected resolved type f, got %s", resolved.Type())
		}
		return Continue
	})
	if err != nil {
		t.Fatalf("WalkWithOptions failed: %v", err)
	}
}

func TestReadLink(t *testing.T) {
	root := buildTree(t, "real.txt")
	if err := os.Symlink("real.txt", filepath.Join(root, "link")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	var target string
	err := Walk(root, func(v *Visit, err error) Action {
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if v.Type() == TypeSymlink {
			var linkErr error
			target, linkErr = v.ReadLink()
			if linkErr != nil {
				t.Fatalf("ReadLink: %v", linkErr)
			}
		}
		return Continue
	})
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}

	if target != "real.txt" {
		t.Errorf("Expected link target %q, got %q", "real.txt", target)
	}
}

func TestCancelContext(t *testing.T) {
	root := buildTree(t, "a/b/c/file.txt")

	ctx, cancel := context.WithCancel(context.Background())
	err := WalkWithOptions(ctx, []string{root}, Options{}, func(v *Visit, err error) Action {
		cancel()
		time.Sleep(time.Millisecond)
		return Continue
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestFollowRootSymlink(t *testing.T) {
	target := buildTree(t, "inside.txt")
	linkDir := t.TempDir()
	link := filepath.Join(linkDir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	// Without following, a symlink root is delivered as a symlink and
	// never descended.
	paths, errs := collect(t, link, Options{})
	if len(errs) != 0 {
		t.Fatalf("Unexpected errors: %v", errs)
	}
	if len(paths) != 1 {
		t.Errorf("Expected 1 delivery for unfollowed symlink root, got %v", paths)
	}

	// With FollowRoots the target directory is traversed.
	paths, errs = collect(t, link, Options{FollowRoots: true})
	if len(errs) != 0 {
		t.Fatalf("Unexpected errors: %v", errs)
	}
	if len(paths) != 2 { // the root and inside.txt
		t.Errorf("Expected 2 deliveries with FollowRoots, got %v", paths)
	}
}
