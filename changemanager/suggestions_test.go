/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package changemanager_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-github/v84/github"

	"chainguard.dev/cifixer/changemanager"
	"chainguard.dev/cifixer/events"
)

const sampleDiff = `diff --git a/main.go b/main.go
index 83db48f..bf3c2a1 100644
--- a/main.go
+++ b/main.go
@@ -1,3 +1,3 @@
 line one
-bad line
+good line
 line three
diff --git a/old.txt b/old.txt
deleted file mode 100644
index e69de29..0000000
--- a/old.txt
+++ /dev/null
@@ -1,2 +0,0 @@
-gone
-gone too
diff --git a/new.txt b/new.txt
new file mode 100644
index 0000000..3b18e51
--- /dev/null
+++ b/new.txt
@@ -0,0 +1,2 @@
+hello
+world
`

func TestParseGitDiff(t *testing.T) {
	t.Parallel()

	changes, err := changemanager.ParseGitDiff(sampleDiff)
	if err != nil {
		t.Fatalf("ParseGitDiff: %v", err)
	}

	// The deleted file must be skipped: nothing to anchor a suggestion to.
	var paths []string
	for _, fc := range changes {
		paths = append(paths, fc.Path)
	}
	want := []string{"main.go", "new.txt"}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Fatalf("paths mismatch (-want +got):\n%s", diff)
	}

	modified := changes[0]
	if len(modified.Hunks) != 1 {
		t.Fatalf("expected 1 hunk in main.go, got %d", len(modified.Hunks))
	}
	hunk := modified.Hunks[0]
	if hunk.StartLine != 1 || hunk.LineCount != 3 {
		t.Errorf("new range: got +%d,%d, want +1,3", hunk.StartLine, hunk.LineCount)
	}
	if got, want := hunk.SuggestedContent, "line one\ngood line\nline three"; got != want {
		t.Errorf("suggested content: got %q, want %q", got, want)
	}
	if !strings.Contains(hunk.Content, "-bad line") || !strings.Contains(hunk.Content, "+good line") {
		t.Errorf("raw hunk lost markers: %q", hunk.Content)
	}

	added := changes[1]
	if len(added.Hunks) != 1 {
		t.Fatalf("expected 1 hunk in new.txt, got %d", len(added.Hunks))
	}
	if got, want := added.Hunks[0].SuggestedContent, "hello\nworld"; got != want {
		t.Errorf("new file suggestion: got %q, want %q", got, want)
	}
}

func TestParseGitDiffEmpty(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "   \n\t"} {
		changes, err := changemanager.ParseGitDiff(in)
		if err != nil {
			t.Fatalf("ParseGitDiff(%q): %v", in, err)
		}
		if changes != nil {
			t.Fatalf("ParseGitDiff(%q) = %v, want nil", in, changes)
		}
	}
}

func testClient(t *testing.T, handler http.Handler) *github.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := github.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	c.BaseURL = base
	c.UploadURL = base
	return c
}

func testPR() events.PullRequestInfo {
	return events.PullRequestInfo{
		Owner:      "acme",
		Repo:       "widgets",
		Number:     7,
		HeadSHA:    "headsha",
		HeadRef:    "feature",
		BaseRef:    "main",
		HTMLURL:    "https://github.com/acme/widgets/pull/7",
		HeadRepoID: 100,
		BaseRepoID: 100,
	}
}

func TestPostInlineSuggestionsBatchesOneReview(t *testing.T) {
	t.Parallel()

	var calls int
	var review github.PullRequestReviewRequest
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/repos/acme/widgets/pulls/7/reviews" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		calls++
		if err := json.NewDecoder(r.Body).Decode(&review); err != nil {
			t.Errorf("decoding review: %v", err)
		}
		w.Write([]byte(`{"id": 1}`))
	}))

	m, err := changemanager.New(client, "ci-autofix")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	changes, err := changemanager.ParseGitDiff(sampleDiff)
	if err != nil {
		t.Fatalf("ParseGitDiff: %v", err)
	}

	if err := m.PostInlineSuggestions(context.Background(), testPR(), changes, "fixed a typo"); err != nil {
		t.Fatalf("PostInlineSuggestions: %v", err)
	}

	if calls != 1 {
		t.Fatalf("expected exactly one review call, got %d", calls)
	}
	if got := len(review.Comments); got != 2 {
		t.Fatalf("expected 2 comments, got %d", got)
	}
	first := review.Comments[0]
	if got := first.GetLine(); got != 3 {
		t.Errorf("anchor line: got %d, want 3 (start + count - 1)", got)
	}
	if got := first.GetSide(); got != "RIGHT" {
		t.Errorf("side: got %q", got)
	}
	body := first.GetBody()
	if !strings.Contains(body, "```suggestion\n") || !strings.Contains(body, "good line") {
		t.Errorf("suggestion body malformed: %q", body)
	}
	if !strings.Contains(body, "fixed a typo") {
		t.Errorf("reasoning missing from body: %q", body)
	}
	if got := review.GetCommitID(); got != "headsha" {
		t.Errorf("commit id: got %q", got)
	}
	if got := review.GetEvent(); got != "COMMENT" {
		t.Errorf("event: got %q", got)
	}
}

func TestPostInlineSuggestionsNoChanges(t *testing.T) {
	t.Parallel()

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected API call %s %s", r.Method, r.URL.Path)
	}))
	m, err := changemanager.New(client, "ci-autofix")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.PostInlineSuggestions(context.Background(), testPR(), nil, "reasoning"); err != nil {
		t.Fatalf("PostInlineSuggestions with no changes: %v", err)
	}
}
