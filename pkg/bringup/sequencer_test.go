package bringup

import (
	"context"
	"testing"

	"github.com/amazonlinux/bottlerocket/otaboot/pkg/internal/testoutput"
	"github.com/amazonlinux/bottlerocket/otaboot/pkg/logging"
	"github.com/pkg/errors"
	"gotest.tools/assert"
)

type testProc struct {
	codes []int
}

func (p *testProc) Exit(code int) {
	p.codes = append(p.codes, code)
}

func testSequencer(t *testing.T) (*Sequencer, *testProc, *int) {
	p := &testProc{}
	notified := 0
	s := New(testoutput.Logger(t, logging.New("bringup")), nil,
		WithExit(p.Exit),
		WithNotify(func() error {
			notified++
			return nil
		}))
	return s, p, &notified
}

func recorder(ran *[]string, name string, err error) Step {
	return Step{
		Name: name,
		Action: func(context.Context) error {
			*ran = append(*ran, name)
			return err
		},
		Failure: name + " failed",
	}
}

func TestRunInOrder(t *testing.T) {
	s, p, notified := testSequencer(t)
	var ran []string
	steps := []Step{
		recorder(&ran, "a", nil),
		recorder(&ran, "b", nil),
		recorder(&ran, "c", nil),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NilError(t, s.Run(ctx, steps))
	assert.DeepEqual(t, ran, []string{"a", "b", "c"})
	assert.Equal(t, len(p.codes), 0)
	assert.Equal(t, *notified, 1)
}

func TestRunHoldsUntilDone(t *testing.T) {
	s, _, _ := testSequencer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- s.Run(ctx, nil)
	}()

	select {
	case <-done:
		t.Fatal("returned before the context was done")
	default:
	}
	cancel()
	assert.NilError(t, <-done)
}

func TestRunAbortsOnFirstFailure(t *testing.T) {
	s, p, notified := testSequencer(t)
	var ran []string
	steps := []Step{
		recorder(&ran, "storage-init", errors.New("flash not present")),
		recorder(&ran, "network-connect", nil),
	}

	err := s.Run(context.Background(), steps)
	assert.ErrorContains(t, err, "storage-init failed: flash not present")
	assert.DeepEqual(t, ran, []string{"storage-init"})
	assert.DeepEqual(t, p.codes, []int{1})
	assert.Equal(t, *notified, 0)
}

func TestNotifyFailureIsNotFatal(t *testing.T) {
	s, p, _ := testSequencer(t)
	s.notify = func() error { return errors.New("no socket") }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NilError(t, s.Run(ctx, nil))
	assert.Equal(t, len(p.codes), 0)
}
