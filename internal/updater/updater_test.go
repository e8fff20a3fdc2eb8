package updater

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clxrityy/tapbump/internal/fetch"
	"github.com/clxrityy/tapbump/internal/formula"
	"github.com/clxrityy/tapbump/internal/version"
)

var (
	oldDigest = strings.Repeat("a", 64)
	newDigest = strings.Repeat("b", 64)
)

func formulaFor(name, ver string) string {
	return "class " + strings.ToUpper(name[:1]) + name[1:] + " < Formula\n" +
		"  desc \"test formula\"\n" +
		"  url \"https://pypi.org/packages/source/" + name[:1] + "/" + name + "/" + name + "-" + ver + ".tar.gz\"\n" +
		"  sha256 \"" + oldDigest + "\"\n" +
		"end\n"
}

// fakeIndex maps index names to versions or errors.
type fakeIndex struct {
	versions map[string]string
	errs     map[string]error
	calls    []string
}

func (f *fakeIndex) LatestVersion(ctx context.Context, name string) (string, error) {
	f.calls = append(f.calls, name)
	if err, ok := f.errs[name]; ok {
		return "", err
	}
	return f.versions[name], nil
}

type fakeDigester struct {
	digest string
	err    error
	urls   []string
}

func (f *fakeDigester) DigestOf(ctx context.Context, url string) (string, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return "", f.err
	}
	return f.digest, nil
}

// memFiles is an in-memory Files implementation that counts writes.
type memFiles struct {
	docs   map[string]string
	writes map[string]int
}

func newMemFiles(docs map[string]string) *memFiles {
	return &memFiles{docs: docs, writes: make(map[string]int)}
}

func (m *memFiles) Read(path string) (string, error) {
	doc, ok := m.docs[path]
	if !ok {
		return "", os.ErrNotExist
	}
	return doc, nil
}

func (m *memFiles) Write(path, data string) error {
	m.writes[path]++
	m.docs[path] = data
	return nil
}

type fakeLinter struct {
	err      error
	auditErr error
	paths    []string
	audited  []string
}

func (f *fakeLinter) Style(ctx context.Context, path string) error {
	f.paths = append(f.paths, path)
	return f.err
}

func (f *fakeLinter) Audit(ctx context.Context, name string) error {
	f.audited = append(f.audited, name)
	return f.auditErr
}

func newTestUpdater(t *testing.T, pkgs []Package, idx *fakeIndex, dig *fakeDigester, files Files, opts Options) *Updater {
	t.Helper()
	u, err := New(pkgs, idx, dig, files, opts)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return u
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(nil, nil, &fakeDigester{}, nil, Options{}); err == nil {
		t.Error("New() with nil version source should fail")
	}
	if _, err := New(nil, &fakeIndex{}, nil, nil, Options{}); err == nil {
		t.Error("New() with nil digester should fail")
	}
}

func TestRun_UpToDate(t *testing.T) {
	tests := []struct {
		name   string
		latest string
	}{
		{name: "equal versions", latest: "1.0.0"},
		{name: "index behind formula", latest: "0.9.9"},
		{name: "equal after padding", latest: "1.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg := Package{Name: "pkg", IndexName: "pkg", FormulaPath: "Formula/pkg.rb"}
			files := newMemFiles(map[string]string{pkg.FormulaPath: formulaFor("pkg", "1.0.0")})
			dig := &fakeDigester{digest: newDigest}
			idx := &fakeIndex{versions: map[string]string{"pkg": tt.latest}}

			report := newTestUpdater(t, []Package{pkg}, idx, dig, files, Options{}).Run(context.Background())

			if len(report.Results) != 1 {
				t.Fatalf("got %d results, want 1", len(report.Results))
			}
			res := report.Results[0]
			if res.Outcome != OutcomeUpToDate {
				t.Errorf("Outcome = %s, want %s (err=%v)", res.Outcome, OutcomeUpToDate, res.Err)
			}
			if res.Current != "1.0.0" || res.Latest != tt.latest {
				t.Errorf("Current/Latest = %s/%s, want 1.0.0/%s", res.Current, res.Latest, tt.latest)
			}
			if files.writes[pkg.FormulaPath] != 0 {
				t.Errorf("formula written %d times, want 0", files.writes[pkg.FormulaPath])
			}
			if len(dig.urls) != 0 {
				t.Errorf("digester called for up-to-date package: %v", dig.urls)
			}
			if report.AnyUpdated() {
				t.Error("AnyUpdated() = true, want false")
			}
		})
	}
}

func TestRun_Updates(t *testing.T) {
	pkg := Package{Name: "gatenet", IndexName: "gatenet", FormulaPath: "Formula/gatenet.rb"}
	files := newMemFiles(map[string]string{pkg.FormulaPath: formulaFor("gatenet", "0.12.5")})
	dig := &fakeDigester{digest: newDigest}
	idx := &fakeIndex{versions: map[string]string{"gatenet": "0.13.0"}}
	lint := &fakeLinter{}

	var streamed []Result
	u := newTestUpdater(t, []Package{pkg}, idx, dig, files, Options{
		Linter:   lint,
		OnResult: func(r Result) { streamed = append(streamed, r) },
	})
	report := u.Run(context.Background())

	res := report.Results[0]
	if res.Outcome != OutcomeUpdated {
		t.Fatalf("Outcome = %s, want updated (err=%v)", res.Outcome, res.Err)
	}
	wantURL := "https://pypi.org/packages/source/g/gatenet/gatenet-0.13.0.tar.gz"
	if res.SourceURL != wantURL {
		t.Errorf("SourceURL = %q, want %q", res.SourceURL, wantURL)
	}
	if len(dig.urls) != 1 || dig.urls[0] != wantURL {
		t.Errorf("digester urls = %v, want [%s]", dig.urls, wantURL)
	}
	if res.Digest != newDigest {
		t.Errorf("Digest = %q, want %q", res.Digest, newDigest)
	}
	if files.writes[pkg.FormulaPath] != 1 {
		t.Errorf("formula written %d times, want 1", files.writes[pkg.FormulaPath])
	}

	doc := files.docs[pkg.FormulaPath]
	got, err := version.Extract(doc)
	if err != nil || got != "0.13.0" {
		t.Errorf("Extract(updated) = %q, %v; want 0.13.0", got, err)
	}
	if !strings.Contains(doc, `sha256 "`+newDigest+`"`) {
		t.Errorf("updated formula missing new digest:\n%s", doc)
	}
	if !report.AnyUpdated() {
		t.Error("AnyUpdated() = false, want true")
	}
	if len(streamed) != 1 || streamed[0].Outcome != OutcomeUpdated {
		t.Errorf("OnResult received %v, want one updated result", streamed)
	}
	if len(lint.paths) != 1 || lint.paths[0] != pkg.FormulaPath {
		t.Errorf("linter paths = %v, want [%s]", lint.paths, pkg.FormulaPath)
	}
}

func TestRun_FetchFailureIsolated(t *testing.T) {
	pkgA := Package{Name: "autochange", IndexName: "autochange", FormulaPath: "Formula/autochange.rb"}
	pkgB := Package{Name: "gatenet", IndexName: "gatenet", FormulaPath: "Formula/gatenet.rb"}
	files := newMemFiles(map[string]string{
		pkgA.FormulaPath: formulaFor("autochange", "1.0.0"),
		pkgB.FormulaPath: formulaFor("gatenet", "1.0.0"),
	})
	idx := &fakeIndex{
		versions: map[string]string{"gatenet": "1.1.0"},
		errs:     map[string]error{"autochange": &fetch.Error{URL: "https://pypi.org/pypi/autochange/json", Status: 503}},
	}
	dig := &fakeDigester{digest: newDigest}

	report := newTestUpdater(t, []Package{pkgA, pkgB}, idx, dig, files, Options{}).Run(context.Background())

	if len(report.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(report.Results))
	}
	a, b := report.Results[0], report.Results[1]
	if a.Outcome != OutcomeFetchFailed {
		t.Errorf("A outcome = %s, want fetch-failed", a.Outcome)
	}
	if !errors.Is(a.Err, fetch.ErrFetch) {
		t.Errorf("A error = %v, want ErrFetch", a.Err)
	}
	if b.Outcome != OutcomeUpdated {
		t.Errorf("B outcome = %s, want updated (err=%v)", b.Outcome, b.Err)
	}
	if !report.AnyUpdated() {
		t.Error("AnyUpdated() = false, want true")
	}
	if files.writes[pkgA.FormulaPath] != 0 {
		t.Error("A formula was written after fetch failure")
	}
	if got := report.Failures(); len(got) != 1 || got[0].Package.Name != "autochange" {
		t.Errorf("Failures() = %v, want only autochange", got)
	}
}

func TestRun_FailureStates(t *testing.T) {
	tests := []struct {
		name        string
		doc         string
		missingFile bool
		latest      string
		indexErr    error
		digestErr   error
		want        Outcome
		wantErr     error
	}{
		{name: "missing file", missingFile: true, latest: "2.0.0", want: OutcomeReadFailed, wantErr: os.ErrNotExist},
		{name: "no version in formula", doc: "class Pkg < Formula\nend\n", latest: "2.0.0", want: OutcomeReadFailed, wantErr: version.ErrNotFound},
		{name: "index error", doc: formulaFor("pkg", "1.0.0"), indexErr: &fetch.Error{URL: "x", Err: errors.New("dial")}, want: OutcomeFetchFailed, wantErr: fetch.ErrFetch},
		{name: "malformed latest", doc: formulaFor("pkg", "1.0.0"), latest: "2.0.0rc1", want: OutcomeCompareFailed, wantErr: version.ErrMalformedVersion},
		{name: "download error", doc: formulaFor("pkg", "1.0.0"), latest: "2.0.0", digestErr: &fetch.Error{URL: "x", Status: 404}, want: OutcomeHashFailed, wantErr: fetch.ErrFetch},
		{name: "missing digest line", doc: "  url \"https://x/pkg-1.0.0.tar.gz\"\n", latest: "2.0.0", want: OutcomeRewriteFailed, wantErr: formula.ErrRewrite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg := Package{Name: "pkg", IndexName: "pkg", FormulaPath: "Formula/pkg.rb"}
			docs := map[string]string{}
			if !tt.missingFile {
				docs[pkg.FormulaPath] = tt.doc
			}
			files := newMemFiles(docs)
			idx := &fakeIndex{versions: map[string]string{"pkg": tt.latest}}
			if tt.indexErr != nil {
				idx.errs = map[string]error{"pkg": tt.indexErr}
			}
			dig := &fakeDigester{digest: newDigest, err: tt.digestErr}

			report := newTestUpdater(t, []Package{pkg}, idx, dig, files, Options{}).Run(context.Background())
			res := report.Results[0]

			if res.Outcome != tt.want {
				t.Errorf("Outcome = %s, want %s (err=%v)", res.Outcome, tt.want, res.Err)
			}
			if !errors.Is(res.Err, tt.wantErr) {
				t.Errorf("Err = %v, want %v", res.Err, tt.wantErr)
			}
			if files.writes[pkg.FormulaPath] != 0 {
				t.Error("formula written despite failure")
			}
			if !res.Outcome.Failed() {
				t.Errorf("Outcome %s should report Failed()", res.Outcome)
			}
		})
	}
}

func TestCheck_NoDownloadNoWrite(t *testing.T) {
	pkg := Package{Name: "pkg", IndexName: "pkg", FormulaPath: "Formula/pkg.rb"}
	files := newMemFiles(map[string]string{pkg.FormulaPath: formulaFor("pkg", "1.0.0")})
	dig := &fakeDigester{digest: newDigest}
	idx := &fakeIndex{versions: map[string]string{"pkg": "1.2.3"}}

	report := newTestUpdater(t, []Package{pkg}, idx, dig, files, Options{}).Check(context.Background())

	res := report.Results[0]
	if res.Outcome != OutcomeAvailable {
		t.Errorf("Outcome = %s, want available", res.Outcome)
	}
	if res.SourceURL != "https://pypi.org/packages/source/p/pkg/pkg-1.2.3.tar.gz" {
		t.Errorf("SourceURL = %q", res.SourceURL)
	}
	if len(dig.urls) != 0 {
		t.Errorf("Check() downloaded %v", dig.urls)
	}
	if files.writes[pkg.FormulaPath] != 0 {
		t.Error("Check() wrote the formula")
	}
	if report.AnyUpdated() {
		t.Error("AnyUpdated() = true after Check()")
	}
}

func TestPackages_Only(t *testing.T) {
	pkgs := []Package{
		{Name: "autochange", IndexName: "autochange"},
		{Name: "gatenet", IndexName: "gatenet"},
		{Name: "tool", IndexName: "tool-py"},
	}
	u := newTestUpdater(t, pkgs, &fakeIndex{}, &fakeDigester{}, newMemFiles(nil), Options{Only: []string{"gatenet", "tool-py"}})

	got := u.Packages()
	if len(got) != 2 || got[0].Name != "gatenet" || got[1].Name != "tool" {
		t.Errorf("Packages() = %v, want [gatenet tool]", got)
	}

	all := newTestUpdater(t, pkgs, &fakeIndex{}, &fakeDigester{}, newMemFiles(nil), Options{}).Packages()
	if len(all) != 3 {
		t.Errorf("Packages() without filter = %d, want 3", len(all))
	}
}

func TestRun_CallbacksInOrder(t *testing.T) {
	pkgs := []Package{
		{Name: "autochange", IndexName: "autochange", FormulaPath: "Formula/autochange.rb"},
		{Name: "gatenet", IndexName: "gatenet", FormulaPath: "Formula/gatenet.rb"},
	}
	files := newMemFiles(map[string]string{
		pkgs[0].FormulaPath: formulaFor("autochange", "1.0.0"),
		pkgs[1].FormulaPath: formulaFor("gatenet", "1.0.0"),
	})
	idx := &fakeIndex{versions: map[string]string{"autochange": "1.0.0", "gatenet": "1.0.0"}}

	var events []string
	opts := Options{
		OnStart:  func(p Package) { events = append(events, "start:"+p.Name) },
		OnResult: func(r Result) { events = append(events, "done:"+r.Package.Name) },
	}
	newTestUpdater(t, pkgs, idx, &fakeDigester{}, files, opts).Run(context.Background())

	want := []string{"start:autochange", "done:autochange", "start:gatenet", "done:gatenet"}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Errorf("callback order = %v, want %v", events, want)
	}
}

// panicFiles panics on read for one path.
type panicFiles struct {
	*memFiles
	bad string
}

func (p panicFiles) Read(path string) (string, error) {
	if path == p.bad {
		panic("corrupt formula")
	}
	return p.memFiles.Read(path)
}

func TestRun_PanicIsolated(t *testing.T) {
	pkgA := Package{Name: "a", IndexName: "a", FormulaPath: "a.rb"}
	pkgB := Package{Name: "b", IndexName: "b", FormulaPath: "b.rb"}
	files := panicFiles{
		memFiles: newMemFiles(map[string]string{"b.rb": formulaFor("b", "1.0.0")}),
		bad:      "a.rb",
	}
	idx := &fakeIndex{versions: map[string]string{"b": "1.0.1"}}

	report := newTestUpdater(t, []Package{pkgA, pkgB}, idx, &fakeDigester{digest: newDigest}, files, Options{}).Run(context.Background())

	if report.Results[0].Outcome != OutcomeError {
		t.Errorf("A outcome = %s, want error", report.Results[0].Outcome)
	}
	if report.Results[1].Outcome != OutcomeUpdated {
		t.Errorf("B outcome = %s, want updated", report.Results[1].Outcome)
	}
}

// panicDigester panics while downloading.
type panicDigester struct{}

func (panicDigester) DigestOf(ctx context.Context, url string) (string, error) {
	panic("digest exploded")
}

func TestRunPackage_PanicKeepsResolvedFields(t *testing.T) {
	pkg := Package{Name: "pkg", IndexName: "pkg", FormulaPath: "Formula/pkg.rb"}
	files := newMemFiles(map[string]string{pkg.FormulaPath: formulaFor("pkg", "1.0.0")})
	idx := &fakeIndex{versions: map[string]string{"pkg": "1.2.0"}}

	u, err := New([]Package{pkg}, idx, panicDigester{}, files, Options{})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	res := u.RunPackage(context.Background(), pkg)

	if res.Outcome != OutcomeError {
		t.Fatalf("Outcome = %s, want error", res.Outcome)
	}
	if res.Current != "1.0.0" || res.Latest != "1.2.0" {
		t.Errorf("Current, Latest = %q, %q, want 1.0.0, 1.2.0", res.Current, res.Latest)
	}
	if !strings.HasSuffix(res.SourceURL, "pkg-1.2.0.tar.gz") {
		t.Errorf("SourceURL = %q", res.SourceURL)
	}
	if res.Err == nil || !strings.Contains(res.Err.Error(), "digest exploded") {
		t.Errorf("Err = %v", res.Err)
	}
	if files.writes[pkg.FormulaPath] != 0 {
		t.Error("formula written after panic")
	}
}

func TestRun_LintWarningKeepsUpdated(t *testing.T) {
	pkg := Package{Name: "pkg", IndexName: "pkg", FormulaPath: "Formula/pkg.rb"}
	files := newMemFiles(map[string]string{pkg.FormulaPath: formulaFor("pkg", "1.0.0")})
	idx := &fakeIndex{versions: map[string]string{"pkg": "1.0.1"}}
	lint := &fakeLinter{err: errors.New("1 offense detected")}

	report := newTestUpdater(t, []Package{pkg}, idx, &fakeDigester{digest: newDigest}, files, Options{Linter: lint}).Run(context.Background())

	res := report.Results[0]
	if res.Outcome != OutcomeUpdated {
		t.Errorf("Outcome = %s, want updated", res.Outcome)
	}
	if res.Warning != "1 offense detected" {
		t.Errorf("Warning = %q", res.Warning)
	}
}

func TestRun_Audit(t *testing.T) {
	tests := []struct {
		name        string
		audit       bool
		styleErr    error
		auditErr    error
		wantAudited int
		wantWarning string
	}{
		{name: "style only", audit: false, auditErr: errors.New("unused"), wantAudited: 0},
		{name: "clean audit", audit: true, wantAudited: 1},
		{name: "audit problem", audit: true, auditErr: errors.New("brew audit failed: desc is too long"), wantAudited: 1,
			wantWarning: "brew audit failed: desc is too long"},
		{name: "both report", audit: true, styleErr: errors.New("style offense"), auditErr: errors.New("audit problem"), wantAudited: 1,
			wantWarning: "style offense; audit problem"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg := Package{Name: "pkg", IndexName: "pkg", FormulaPath: "Formula/pkg.rb"}
			files := newMemFiles(map[string]string{pkg.FormulaPath: formulaFor("pkg", "1.0.0")})
			idx := &fakeIndex{versions: map[string]string{"pkg": "1.0.1"}}
			lint := &fakeLinter{err: tt.styleErr, auditErr: tt.auditErr}

			opts := Options{Linter: lint, Audit: tt.audit}
			res := newTestUpdater(t, []Package{pkg}, idx, &fakeDigester{digest: newDigest}, files, opts).Run(context.Background()).Results[0]

			if res.Outcome != OutcomeUpdated {
				t.Errorf("Outcome = %s, want updated", res.Outcome)
			}
			if len(lint.audited) != tt.wantAudited {
				t.Errorf("audited %v, want %d call(s)", lint.audited, tt.wantAudited)
			}
			if tt.wantAudited > 0 && lint.audited[0] != "pkg" {
				t.Errorf("audited %q, want pkg", lint.audited[0])
			}
			if res.Warning != tt.wantWarning {
				t.Errorf("Warning = %q, want %q", res.Warning, tt.wantWarning)
			}
		})
	}
}

func TestRun_OnDownloadOnlyWhenBehind(t *testing.T) {
	pkgs := []Package{
		{Name: "current", IndexName: "current", FormulaPath: "Formula/current.rb"},
		{Name: "behind", IndexName: "behind", FormulaPath: "Formula/behind.rb"},
	}
	files := newMemFiles(map[string]string{
		pkgs[0].FormulaPath: formulaFor("current", "1.0.0"),
		pkgs[1].FormulaPath: formulaFor("behind", "1.0.0"),
	})
	idx := &fakeIndex{versions: map[string]string{"current": "1.0.0", "behind": "2.0.0"}}

	var downloads []string
	opts := Options{OnDownload: func(p Package, url string) { downloads = append(downloads, p.Name+" "+url) }}
	u := newTestUpdater(t, pkgs, idx, &fakeDigester{digest: newDigest}, files, opts)

	u.Check(context.Background())
	if len(downloads) != 0 {
		t.Errorf("Check() announced downloads: %v", downloads)
	}

	u.Run(context.Background())
	want := "behind https://pypi.org/packages/source/b/behind/behind-2.0.0.tar.gz"
	if len(downloads) != 1 || downloads[0] != want {
		t.Errorf("downloads = %v, want [%s]", downloads, want)
	}
}

// TestRun_DiskRewriteFailureLeavesFileUntouched exercises the real
// filesystem: a formula without a digest line must stay byte-identical.
func TestRun_DiskRewriteFailureLeavesFileUntouched(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pkg.rb")
	original := "class Pkg < Formula\n  url \"https://pypi.org/packages/source/p/pkg/pkg-1.0.0.tar.gz\"\nend\n"
	if err := os.WriteFile(path, []byte(original), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	pkg := Package{Name: "pkg", IndexName: "pkg", FormulaPath: path}
	idx := &fakeIndex{versions: map[string]string{"pkg": "1.1.0"}}
	u := newTestUpdater(t, []Package{pkg}, idx, &fakeDigester{digest: newDigest}, nil, Options{})

	res := u.RunPackage(context.Background(), pkg)
	if res.Outcome != OutcomeRewriteFailed {
		t.Fatalf("Outcome = %s, want rewrite-failed", res.Outcome)
	}
	if !errors.Is(res.Err, formula.ErrRewrite) {
		t.Errorf("Err = %v, want ErrRewrite", res.Err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != original {
		t.Errorf("formula changed on disk:\n%s", data)
	}
}

func TestReport_Counts(t *testing.T) {
	r := &Report{Results: []Result{
		{Outcome: OutcomeUpdated},
		{Outcome: OutcomeUpToDate},
		{Outcome: OutcomeUpToDate},
		{Outcome: OutcomeFetchFailed},
	}}
	counts := r.Counts()
	if counts[OutcomeUpToDate] != 2 || counts[OutcomeUpdated] != 1 || counts[OutcomeFetchFailed] != 1 {
		t.Errorf("Counts() = %v", counts)
	}
}

func TestOutcomes(t *testing.T) {
	seen := make(map[Outcome]bool)
	failed := 0
	for _, o := range Outcomes() {
		if seen[o] {
			t.Errorf("outcome %s listed twice", o)
		}
		seen[o] = true
		if o.Failed() {
			failed++
		}
	}
	if len(seen) != 9 {
		t.Errorf("got %d outcomes, want 9", len(seen))
	}
	if failed != 6 {
		t.Errorf("got %d failure outcomes, want 6", failed)
	}
}
