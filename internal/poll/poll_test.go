//go:build linux

package poll

import (
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/smazurov/camhw/internal/hwerr"
)

func newPipe(t *testing.T) (int, int) {
	t.Helper()
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(p[0])
		unix.Close(p[1])
	})
	return p[0], p[1]
}

func drain(fd int) {
	var b [16]byte
	for {
		if n, err := unix.Read(fd, b[:]); n <= 0 || err != nil {
			return
		}
	}
}

func TestLoopDispatchesReadableFD(t *testing.T) {
	r, w := newPipe(t)
	got := make(chan int, 4)

	l, err := New(func(fd int) {
		drain(fd)
		got <- fd
	})
	if err != nil {
		t.Fatal(err)
	}
	l.Start()
	defer l.Stop(time.Second)

	if err := l.Add(r); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := unix.Write(w, []byte{1}); err != nil {
		t.Fatal(err)
	}

	select {
	case fd := <-got:
		if fd != r {
			t.Errorf("handler fd = %d, want %d", fd, r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
}

func TestLoopRemoveStopsDispatch(t *testing.T) {
	r, w := newPipe(t)
	var mu sync.Mutex
	calls := 0

	l, err := New(func(fd int) {
		drain(fd)
		mu.Lock()
		calls++
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	l.Start()
	defer l.Stop(time.Second)

	if err := l.Add(r); err != nil {
		t.Fatal(err)
	}
	if err := l.Remove(r); err != nil {
		t.Fatal(err)
	}

	unix.Write(w, []byte{1})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("handler called %d times after Remove", calls)
	}
}

func TestLoopStop(t *testing.T) {
	l, err := New(func(int) {})
	if err != nil {
		t.Fatal(err)
	}
	l.Start()

	if err := l.Stop(time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// second stop is a no-op
	if err := l.Stop(time.Second); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if err := l.Add(3); !hwerr.IsCode(err, hwerr.InvalidState) {
		t.Errorf("Add after Stop = %v, want InvalidState", err)
	}
}

func TestLoopStopTimeout(t *testing.T) {
	r, w := newPipe(t)
	entered := make(chan struct{})
	release := make(chan struct{})

	l, err := New(func(fd int) {
		drain(fd)
		close(entered)
		<-release
	})
	if err != nil {
		t.Fatal(err)
	}
	l.Start()

	if err := l.Add(r); err != nil {
		t.Fatal(err)
	}
	unix.Write(w, []byte{1})
	<-entered

	if err := l.Stop(20 * time.Millisecond); !hwerr.IsCode(err, hwerr.Timeout) {
		t.Errorf("Stop = %v, want Timeout", err)
	}
	close(release)
}

func TestNewRejectsNilHandler(t *testing.T) {
	if _, err := New(nil); !hwerr.IsCode(err, hwerr.InvalidArgument) {
		t.Errorf("New(nil) = %v, want InvalidArgument", err)
	}
}
