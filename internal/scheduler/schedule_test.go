package scheduler

import (
	"testing"
	"time"
)

func TestParseSchedule_RequiresExactlyOneKind(t *testing.T) {
	if _, err := ParseSchedule(ScheduleSpec{}); err == nil {
		t.Error("empty spec accepted")
	}
	if _, err := ParseSchedule(ScheduleSpec{At: "2026-09-01T10:00:00Z", Every: "5m"}); err == nil {
		t.Error("spec with both at and every accepted")
	}
}

func TestParseSchedule_At(t *testing.T) {
	sched, err := ParseSchedule(ScheduleSpec{At: "2026-09-01T10:00:00Z"})
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	if sched.Kind != "at" {
		t.Errorf("kind = %q, want at", sched.Kind)
	}
	want := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	if !sched.At.Equal(want) {
		t.Errorf("at = %v, want %v", sched.At, want)
	}

	// Local date-time form with explicit timezone.
	sched, err = ParseSchedule(ScheduleSpec{At: "2026-09-01 10:00", Timezone: "America/New_York"})
	if err != nil {
		t.Fatalf("ParseSchedule with timezone: %v", err)
	}
	if got := sched.At.Format("15:04 Z07:00"); got != "10:00 -04:00" {
		t.Errorf("localized at = %s", got)
	}

	if _, err := ParseSchedule(ScheduleSpec{At: "next tuesday"}); err == nil {
		t.Error("garbage timestamp accepted")
	}
}

func TestParseSchedule_Every(t *testing.T) {
	sched, err := ParseSchedule(ScheduleSpec{Every: "30m"})
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	if sched.Kind != "every" || sched.Every != 30*time.Minute {
		t.Errorf("sched = %+v", sched)
	}
	if !sched.Recurring() {
		t.Error("every schedule not recurring")
	}

	if _, err := ParseSchedule(ScheduleSpec{Every: "-5m"}); err == nil {
		t.Error("negative duration accepted")
	}
	if _, err := ParseSchedule(ScheduleSpec{Every: "soon"}); err == nil {
		t.Error("garbage duration accepted")
	}
}

func TestParseSchedule_Cron(t *testing.T) {
	sched, err := ParseSchedule(ScheduleSpec{Cron: "0 9 * * MON-FRI"})
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	if sched.Kind != "cron" {
		t.Errorf("kind = %q, want cron", sched.Kind)
	}

	if _, err := ParseSchedule(ScheduleSpec{Cron: "not a cron"}); err == nil {
		t.Error("invalid expression accepted")
	}
}

func TestScheduleNext_AtFiresOnceThenStops(t *testing.T) {
	at := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	sched := Schedule{Kind: "at", At: at}

	next, ok, err := sched.Next(at.Add(-time.Hour))
	if err != nil || !ok {
		t.Fatalf("Next before deadline: next=%v ok=%v err=%v", next, ok, err)
	}
	if !next.Equal(at) {
		t.Errorf("next = %v, want %v", next, at)
	}

	_, ok, err = sched.Next(at.Add(time.Second))
	if err != nil {
		t.Fatalf("Next after deadline: %v", err)
	}
	if ok {
		t.Error("at schedule still fires after its deadline")
	}
}

func TestScheduleNext_Every(t *testing.T) {
	sched := Schedule{Kind: "every", Every: 15 * time.Minute}
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	next, ok, err := sched.Next(now)
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if !next.Equal(now.Add(15 * time.Minute)) {
		t.Errorf("next = %v", next)
	}
}

func TestScheduleNext_CronHonorsTimezone(t *testing.T) {
	sched := Schedule{Kind: "cron", CronExpr: "0 9 * * *", Timezone: "America/New_York"}
	// 13:00 UTC on a DST day is 09:00 in New York, so the next run is the
	// following morning.
	now := time.Date(2026, 7, 1, 13, 30, 0, 0, time.UTC)
	next, ok, err := sched.Next(now)
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if got := next.Format("2006-01-02 15:04"); got != "2026-07-02 09:00" {
		t.Errorf("next local run = %s", got)
	}
}

func TestScheduleNext_UnknownKind(t *testing.T) {
	if _, _, err := (Schedule{Kind: "hourly"}).Next(time.Now()); err == nil {
		t.Error("unknown kind accepted")
	}
}
