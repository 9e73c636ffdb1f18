package robots

import "testing"

func TestParseNoneSetsBothFalse(t *testing.T) {
	t.Parallel()

	d := Parse("none")
	if d.Index == nil || *d.Index != false {
		t.Fatalf("expected index=false, got %+v", d.Index)
	}
	if d.Follow == nil || *d.Follow != false {
		t.Fatalf("expected follow=false, got %+v", d.Follow)
	}
}

func TestParseIgnoresUnknownTokens(t *testing.T) {
	t.Parallel()

	d := Parse("noarchive, index, bogus follow")
	if d.Index == nil || *d.Index != true {
		t.Fatalf("expected index=true, got %+v", d.Index)
	}
	if d.Follow == nil || *d.Follow != true {
		t.Fatalf("expected follow=true, got %+v", d.Follow)
	}
}

func TestParseFirstTokenWinsWithinOneSource(t *testing.T) {
	t.Parallel()

	d := Parse("noindex index")
	if d.Index == nil || *d.Index != false {
		t.Fatalf("expected first token (noindex) to win, got %+v", d.Index)
	}
}

func TestMergeDefaultsToTrueTrue(t *testing.T) {
	t.Parallel()

	cfg := Merge()
	if !cfg.IndexPage || !cfg.FollowLinks {
		t.Fatalf("expected default {true,true}, got %+v", cfg)
	}
}

func TestMergeFirstDefiniteValueWins(t *testing.T) {
	t.Parallel()

	header := Parse("noindex")
	meta := Parse("index, nofollow")
	cfg := Merge(header, meta)
	if cfg.IndexPage {
		t.Fatalf("expected header's noindex to win over meta's index")
	}
	if cfg.FollowLinks {
		t.Fatalf("expected meta's nofollow to apply since header was silent on follow")
	}
}

func TestMergeNoneFromLaterSourceStillHonorsEarlierAxis(t *testing.T) {
	t.Parallel()

	header := Parse("follow")
	meta := Parse("none")
	cfg := Merge(header, meta)
	if !cfg.FollowLinks {
		t.Fatalf("expected header's explicit follow=true to win over meta's none")
	}
	if cfg.IndexPage {
		t.Fatalf("expected meta's none to set index=false since header was silent")
	}
}

func TestLinkFollowNofollowRelOverridesPageFollow(t *testing.T) {
	t.Parallel()

	if LinkFollow(true, "nofollow") {
		t.Fatalf("expected rel=nofollow to force follow=false")
	}
}

func TestLinkFollowPageLevelNofollowWins(t *testing.T) {
	t.Parallel()

	if LinkFollow(false, "") {
		t.Fatalf("expected page-level follow=false to propagate")
	}
}

func TestLinkFollowDefaultsToPageFollow(t *testing.T) {
	t.Parallel()

	if !LinkFollow(true, "") {
		t.Fatalf("expected default follow=true when neither level overrides")
	}
}
