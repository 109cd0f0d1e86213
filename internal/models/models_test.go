package models

import (
	"testing"
	"time"
)

func TestJobStatusTerminal(t *testing.T) {
	if JobStatusPending.Terminal() {
		t.Error("pending should not be terminal")
	}
	if JobStatusProcessing.Terminal() {
		t.Error("processing should not be terminal")
	}
	if !JobStatusCompleted.Terminal() {
		t.Error("completed should be terminal")
	}
	if !JobStatusFailed.Terminal() {
		t.Error("failed should be terminal")
	}
}

func TestJobKindValid(t *testing.T) {
	valid := []JobKind{
		JobKindAvatarVideo,
		JobKindPromptVideo,
		JobKindCustomAvatarVideo,
		JobKindVideoExtension,
		JobKindImage,
		JobKindMusic,
	}
	for _, k := range valid {
		if !k.Valid() {
			t.Errorf("expected %s to be valid", k)
		}
	}

	if JobKind("podcast").Valid() {
		t.Error("unknown kind should be invalid")
	}
	if JobKind("").Valid() {
		t.Error("empty kind should be invalid")
	}
}

func TestVideoCost(t *testing.T) {
	// 8 seconds of standard video is the flagship price point.
	if got := VideoCost(VideoModelStandard, 8); got != 16 {
		t.Errorf("expected 8s standard to cost 16 credits, got %d", got)
	}
	if got := VideoCost(VideoModelFast, 8); got != 8 {
		t.Errorf("expected 8s fast to cost 8 credits, got %d", got)
	}
	// Unknown model strings price as standard.
	if got := VideoCost(VideoModel("unknown"), 10); got != 20 {
		t.Errorf("expected unknown model to price as standard, got %d", got)
	}
}

func TestPlanLimits(t *testing.T) {
	if got := PlanFree.MonthlyJobLimit(); got != 10 {
		t.Errorf("expected free limit 10, got %d", got)
	}
	if got := PlanPro.MonthlyJobLimit(); got != 200 {
		t.Errorf("expected pro limit 200, got %d", got)
	}
	if PlanPro.MonthlyJobLimit() >= PlanEnterprise.MonthlyJobLimit() {
		t.Error("enterprise limit should exceed pro")
	}

	if PlanFree.AllowsCustomAvatar() {
		t.Error("free plan should not allow custom avatars")
	}
	if !PlanPro.AllowsCustomAvatar() {
		t.Error("pro plan should allow custom avatars")
	}
	if !PlanEnterprise.AllowsCustomAvatar() {
		t.Error("enterprise plan should allow custom avatars")
	}
}

func TestJobTimedOut(t *testing.T) {
	now := time.Now()

	fresh := &GenerationJob{Status: JobStatusProcessing, CreatedAt: now.Add(-time.Minute)}
	if fresh.TimedOut(now) {
		t.Error("fresh job should not be timed out")
	}

	stale := &GenerationJob{Status: JobStatusProcessing, CreatedAt: now.Add(-JobTimeout - time.Second)}
	if !stale.TimedOut(now) {
		t.Error("stale job should be timed out")
	}

	// Terminal jobs never time out, regardless of age.
	done := &GenerationJob{Status: JobStatusCompleted, CreatedAt: now.Add(-24 * time.Hour)}
	if done.TimedOut(now) {
		t.Error("completed job should not be timed out")
	}
}
