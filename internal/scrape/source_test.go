package scrape

import (
	"testing"

	"github.com/kalambet/scrapejobs/internal/storage"
)

func TestQueryFromParamsNormalizes(t *testing.T) {
	q := QueryFromParams(storage.Params{
		Keyword:  "  go  ",
		Hashtag:  "golang,#gophers, ",
		Username: " @rob ",
	})
	if q.Keyword != "go" || q.Username != "rob" {
		t.Errorf("keyword=%q username=%q", q.Keyword, q.Username)
	}
	if len(q.Hashtags) != 2 || q.Hashtags[0] != "#golang" || q.Hashtags[1] != "#gophers" {
		t.Errorf("Hashtags = %v", q.Hashtags)
	}
	if q.Mode != ModeTop {
		t.Errorf("Mode = %q, want default %q", q.Mode, ModeTop)
	}
}

func TestSearchTermsEmptyWithoutKeywordOrTags(t *testing.T) {
	q := QueryFromParams(storage.Params{Username: "rob"})
	if got := q.SearchTerms(); got != "" {
		t.Errorf("SearchTerms = %q, want empty", got)
	}
}
