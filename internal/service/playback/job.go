package playback

import (
	"context"
	"sync"
)

// Job is one narration of one message. It finishes when the audio ends, fails
// or is cancelled by another toggle.
type Job struct {
	MessageID string

	done chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	source Source
}

func newJob(messageID string, cancel context.CancelFunc) *Job {
	return &Job{
		MessageID: messageID,
		done:      make(chan struct{}),
		cancel:    cancel,
	}
}

// Cancel stops the narration. It is safe to call multiple times.
func (j *Job) Cancel() {
	if j == nil {
		return
	}
	j.mu.Lock()
	cancel := j.cancel
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed once the job has released its audio output.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job is finished.
func (j *Job) Wait() {
	if j == nil {
		return
	}
	<-j.done
}

// Source reports which narration source the job ended up using.
func (j *Job) Source() Source {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.source
}

func (j *Job) setSource(s Source) {
	j.mu.Lock()
	j.source = s
	j.mu.Unlock()
}

func (j *Job) finish() {
	j.mu.Lock()
	cancel := j.cancel
	j.cancel = nil
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	close(j.done)
}
