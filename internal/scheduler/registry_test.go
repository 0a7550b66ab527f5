/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestRegistryRefCounting(t *testing.T) {
	r := NewRegistry(Options{}, zerolog.Nop())
	ctx := context.Background()

	first, err := r.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	second, err := r.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if first != second {
		t.Fatal("concurrent holders got different schedulers")
	}

	r.Release(first)
	if st := r.Stats(); st.Refs != 1 || !st.Running {
		t.Fatalf("after one release: %+v", st)
	}

	r.Release(second)
	st := r.Stats()
	if st.Refs != 0 || st.Running {
		t.Fatalf("after last release: %+v", st)
	}
	if st.Acquired != 2 || st.Released != 2 {
		t.Errorf("counters = %+v, want 2 acquired and 2 released", st)
	}
	<-first.Done()

	third, err := r.Acquire(ctx)
	if err != nil {
		t.Fatalf("re-Acquire() error = %v", err)
	}
	if third == first {
		t.Error("registry reused a stopped scheduler")
	}
	r.Release(third)
	<-third.Done()
}

func TestRegistryIgnoresStaleRelease(t *testing.T) {
	r := NewRegistry(Options{}, zerolog.Nop())

	s, err := r.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	r.Release(s)
	<-s.Done()

	r.Release(s)
	r.Release(nil)
	if st := r.Stats(); st.Released != 1 {
		t.Errorf("Released = %d, want 1", st.Released)
	}
}

func TestRegistryAcquireUnavailable(t *testing.T) {
	r := NewRegistry(Options{}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Acquire(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Acquire() error = %v, want ErrUnavailable", err)
	}
	if r.Stats().Refs != 0 || r.Current() != nil {
		t.Error("failed acquire left a reference behind")
	}
}
