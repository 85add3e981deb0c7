package plot_test

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/vampirenirmal/novelist/internal/plot"
	"github.com/vampirenirmal/novelist/internal/story"
)

func coord(ch, sc int) story.Coordinate {
	return story.Coordinate{Chapter: ch, Scene: sc}
}

func TestAddDevelopmentPromotesIntroducedThread(t *testing.T) {
	th := plot.NewThread("quest", "the hero's quest", story.ImportanceMajor, coord(1, 1))

	if th.Status != story.ThreadIntroduced {
		t.Fatalf("new thread status = %s, want introduced", th.Status)
	}

	if err := th.AddDevelopment(coord(1, 2), "hero accepts the call"); err != nil {
		t.Fatalf("AddDevelopment: %v", err)
	}
	if th.Status != story.ThreadDeveloped {
		t.Errorf("status after first development = %s, want developed", th.Status)
	}
	if th.FirstChapter != 1 || th.FirstScene != 1 {
		t.Errorf("first coordinate moved to (%d,%d), want (1,1)", th.FirstChapter, th.FirstScene)
	}
	if th.LastChapter != 1 || th.LastScene != 2 {
		t.Errorf("last coordinate = (%d,%d), want (1,2)", th.LastChapter, th.LastScene)
	}
}

func TestResolvedThreadRejectsFurtherDevelopment(t *testing.T) {
	th := plot.NewThread("mystery", "who stole the crown", story.ImportanceMinor, coord(1, 1))

	if err := th.Resolve(coord(2, 3), "the butler confesses"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if th.Status != story.ThreadResolved {
		t.Fatalf("status = %s, want resolved", th.Status)
	}

	err := th.AddDevelopment(coord(2, 4), "more clues appear")
	if !errors.Is(err, story.ErrThreadTerminal) {
		t.Errorf("AddDevelopment after resolve = %v, want ErrThreadTerminal", err)
	}
	err = th.Abandon(coord(2, 4), "never mind")
	if !errors.Is(err, story.ErrThreadTerminal) {
		t.Errorf("Abandon after resolve = %v, want ErrThreadTerminal", err)
	}
}

func TestTerminalDevelopmentsCarryFlags(t *testing.T) {
	resolved := plot.NewThread("a", "", story.ImportanceMajor, coord(1, 1))
	if err := resolved.Resolve(coord(3, 1), "done"); err != nil {
		t.Fatal(err)
	}
	last := resolved.Developments[len(resolved.Developments)-1]
	if !last.IsResolution || last.IsAbandonment {
		t.Errorf("resolution entry flags = %+v", last)
	}

	abandoned := plot.NewThread("b", "", story.ImportanceMajor, coord(1, 1))
	if err := abandoned.Abandon(coord(3, 1), "dropped"); err != nil {
		t.Fatal(err)
	}
	last = abandoned.Developments[len(abandoned.Developments)-1]
	if !last.IsAbandonment || last.IsResolution {
		t.Errorf("abandonment entry flags = %+v", last)
	}
}

func TestThreadSerializationRoundTrip(t *testing.T) {
	th := plot.NewThread("romance", "slow burn", story.ImportanceBackground, coord(1, 2))
	th.AddRelatedCharacter("hero")
	th.AddRelatedCharacter("rival")
	if err := th.AddDevelopment(coord(2, 1), "they argue"); err != nil {
		t.Fatal(err)
	}
	if err := th.AddDevelopment(coord(2, 3), "they reconcile"); err != nil {
		t.Fatal(err)
	}
	if err := th.Resolve(coord(3, 2), "confession"); err != nil {
		t.Fatal(err)
	}

	data, err := json.Marshal(th)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var restored plot.Thread
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(*th, restored) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", restored, *th)
	}
}
