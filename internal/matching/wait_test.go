package matching

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// scriptedClient returns one JobInfo per GetJobStatus call, in order. The last
// entry repeats if polled past the end of the script.
type scriptedClient struct {
	script []JobInfo
	err    error
	polls  int
}

func (c *scriptedClient) StartMatchingJob(context.Context, StartJobRequest) (string, error) {
	return "job-1", nil
}

func (c *scriptedClient) GetJobStatus(context.Context, string) (JobInfo, error) {
	if c.err != nil {
		return JobInfo{}, c.err
	}
	i := c.polls
	c.polls++
	if i >= len(c.script) {
		i = len(c.script) - 1
	}
	return c.script[i], nil
}

func running() JobInfo { return JobInfo{JobID: "job-1", Status: StatusRunning} }

// testWaitOptions returns options with a recording fake sleep and a fixed
// clock, so tests never actually wait.
func testWaitOptions(slept *[]time.Duration) WaitOptions {
	base := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	return WaitOptions{
		now: func() time.Time { return base },
		sleep: func(_ context.Context, d time.Duration) error {
			*slept = append(*slept, d)
			return nil
		},
	}
}

func TestWaitForJob_SucceedsAfterPolls(t *testing.T) {
	client := &scriptedClient{script: []JobInfo{
		running(),
		running(),
		{
			JobID:          "job-1",
			Status:         StatusSucceeded,
			OutputLocation: "s3://bucket/output/20240102_090000/",
			Statistics:     Statistics{InputRecords: 100, MatchedRecords: 40},
		},
	}}

	var slept []time.Duration
	info, err := WaitForJob(context.Background(), client, "job-1", testWaitOptions(&slept))
	if err != nil {
		t.Fatalf("WaitForJob: %v", err)
	}

	if client.polls != 3 {
		t.Errorf("polls = %d, want 3", client.polls)
	}
	if info.OutputLocation != "s3://bucket/output/20240102_090000/" {
		t.Errorf("OutputLocation = %q", info.OutputLocation)
	}
	if info.Statistics.MatchedRecords != 40 {
		t.Errorf("MatchedRecords = %d, want 40", info.Statistics.MatchedRecords)
	}

	// Default 30s interval growing by 1.5 between the two sleeps.
	want := []time.Duration{30 * time.Second, 45 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("sleeps = %v, want %v", slept, want)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, slept[i], want[i])
		}
	}
}

func TestWaitForJob_IntervalCappedAtMax(t *testing.T) {
	client := &scriptedClient{script: []JobInfo{
		running(), running(), running(), running(),
		{JobID: "job-1", Status: StatusSucceeded},
	}}

	var slept []time.Duration
	opts := testWaitOptions(&slept)
	opts.CheckInterval = 10 * time.Second
	opts.MaxInterval = 15 * time.Second
	opts.Multiplier = 2

	if _, err := WaitForJob(context.Background(), client, "job-1", opts); err != nil {
		t.Fatalf("WaitForJob: %v", err)
	}

	want := []time.Duration{10 * time.Second, 15 * time.Second, 15 * time.Second, 15 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("sleeps = %v, want %v", slept, want)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, slept[i], want[i])
		}
	}
}

func TestWaitForJob_FailedJobCarriesServiceError(t *testing.T) {
	client := &scriptedClient{script: []JobInfo{
		{JobID: "job-1", Status: StatusFailed, Errors: []string{"boom"}},
	}}

	var slept []time.Duration
	_, err := WaitForJob(context.Background(), client, "job-1", testWaitOptions(&slept))

	var failed *JobFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("err = %v, want *JobFailedError", err)
	}
	if failed.Status != StatusFailed {
		t.Errorf("Status = %s, want FAILED", failed.Status)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error %q should contain the service message", err)
	}
	if len(slept) != 0 {
		t.Errorf("slept %v, want no sleeps on an immediately terminal job", slept)
	}
}

func TestWaitForJob_FailedJobWithoutMessage(t *testing.T) {
	client := &scriptedClient{script: []JobInfo{
		{JobID: "job-1", Status: StatusFailed},
	}}

	var slept []time.Duration
	_, err := WaitForJob(context.Background(), client, "job-1", testWaitOptions(&slept))
	if err == nil || !strings.Contains(err.Error(), "unknown error") {
		t.Fatalf("err = %v, want generic failure message", err)
	}
}

func TestWaitForJob_Cancelled(t *testing.T) {
	client := &scriptedClient{script: []JobInfo{
		{JobID: "job-1", Status: StatusCancelled},
	}}

	var slept []time.Duration
	_, err := WaitForJob(context.Background(), client, "job-1", testWaitOptions(&slept))

	var failed *JobFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("err = %v, want *JobFailedError", err)
	}
	if !strings.Contains(err.Error(), "cancelled") {
		t.Errorf("error %q should mention cancellation", err)
	}
}

func TestWaitForJob_DeadlineExceeded(t *testing.T) {
	client := &scriptedClient{script: []JobInfo{running()}}

	var slept []time.Duration
	opts := testWaitOptions(&slept)
	opts.Timeout = 10 * time.Second // below the 30s poll interval

	_, err := WaitForJob(context.Background(), client, "job-1", opts)

	var deadline *DeadlineError
	if !errors.As(err, &deadline) {
		t.Fatalf("err = %v, want *DeadlineError", err)
	}
	if deadline.LastStatus != StatusRunning {
		t.Errorf("LastStatus = %s, want RUNNING", deadline.LastStatus)
	}
	if len(slept) != 0 {
		t.Errorf("slept %v, want none: the next poll would overshoot the deadline", slept)
	}
}

func TestWaitForJob_StatusErrorPropagates(t *testing.T) {
	boom := errors.New("throttled")
	client := &scriptedClient{err: boom}

	var slept []time.Duration
	_, err := WaitForJob(context.Background(), client, "job-1", testWaitOptions(&slept))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestWaitForJob_ContextCancelledDuringSleep(t *testing.T) {
	client := &scriptedClient{script: []JobInfo{running()}}

	opts := WaitOptions{
		now: time.Now,
		sleep: func(ctx context.Context, _ time.Duration) error {
			return context.Canceled
		},
	}
	_, err := WaitForJob(context.Background(), client, "job-1", opts)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, tc := range []struct {
		status Status
		want   bool
	}{
		{StatusSubmitted, false},
		{StatusRunning, false},
		{StatusSucceeded, true},
		{StatusFailed, true},
		{StatusCancelled, true},
	} {
		if got := tc.status.Terminal(); got != tc.want {
			t.Errorf("%s.Terminal() = %v, want %v", tc.status, got, tc.want)
		}
	}
}
