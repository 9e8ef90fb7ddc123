package domain

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Stage
		want     bool
	}{
		{StageIdle, StageFetchingURL, true},
		{StageFetchingURL, StageLoadingScript, true},
		{StageLoadingScript, StageCreatingContext, true},
		{StageCreatingContext, StageMounted, true},
		{StageMounted, StageDisposed, true},
		{StageIdle, StageDisposed, true},
		{StageError, StageDisposed, true},

		{StageIdle, StageLoadingScript, false},
		{StageFetchingURL, StageMounted, false},
		{StageMounted, StageFetchingURL, false},
		{StageIdle, StageError, false},
		{StageError, StageMounted, false},
		{StageDisposed, StageIdle, false},
		{StageDisposed, StageDisposed, false},

		{StageFetchingURL, StageError, true},
		{StageLoadingScript, StageError, true},
		{StageCreatingContext, StageError, true},
		{StageMounted, StageError, true},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStageTerminal(t *testing.T) {
	if !StageDisposed.Terminal() {
		t.Error("disposed should be terminal")
	}
	if StageError.Terminal() {
		t.Error("error should not be terminal")
	}
	if StageDisposed.Active() || !StageMounted.Active() {
		t.Error("Active mismatch")
	}
}

func TestViewModeValid(t *testing.T) {
	if !ViewChat.Valid() || !ViewEmbed.Valid() {
		t.Error("known modes should be valid")
	}
	if ViewMode("split").Valid() {
		t.Error("unknown mode should be invalid")
	}
}
