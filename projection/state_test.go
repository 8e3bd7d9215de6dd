package projection

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/stardustapp/skychat-sub000/data"
)

type recorder struct {
	mu      sync.Mutex
	events  []string
	stopped chan struct{}
	failure error
	done    bool
}

func newRecorder() *recorder {
	return &recorder{stopped: make(chan struct{})}
}

func (r *recorder) Next(n data.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, n.String())
	return nil
}

func (r *recorder) Error(err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failure = err
	return nil
}

func (r *recorder) Done() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = true
	return nil
}

func (r *recorder) Stopped() <-chan struct{} {
	return r.stopped
}

func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

func expectEvents(tst *testing.T, r *recorder, want ...string) {
	tst.Helper()
	got := r.take()
	if len(want) == 0 && len(got) == 0 {
		return
	}
	if diff := cmp.Diff(want, got); diff != "" {
		tst.Errorf("notification mismatch (-want +got):\n%s", diff)
	}
}

func expectBug(tst *testing.T, fn func()) {
	tst.Helper()
	defer func() {
		if _, ok := data.AsProtocolBug(recover()); !ok {
			tst.Errorf("Expected ProtocolBug panic")
		}
	}()
	fn()
}

func TestOfferPathIdempotent(tst *testing.T) {
	r := newRecorder()
	s := NewState(r)

	s.OfferPath("motd", data.NewString("motd", "hi"))
	s.OfferPath("motd", data.NewString("motd", "hi"))

	expectEvents(tst, r, `Added("motd", String "hi")`)

	s.OfferPath("motd", data.NewString("motd", "bye"))
	expectEvents(tst, r, `Changed("motd", String "bye")`)
}

func TestFolderNeverSelfDiffs(tst *testing.T) {
	r := newRecorder()
	s := NewState(r)

	for i := 0; i < 3; i++ {
		s.OfferPath("dir", data.NewFolderStub("dir"))
	}
	s.OfferPath("dir", data.NewFolder("dir"))

	expectEvents(tst, r, `Added("dir", Folder)`)
}

func TestOfferPathInlineChildren(tst *testing.T) {
	r := newRecorder()
	s := NewState(r)

	s.OfferPath("", data.NewFolder("",
		data.NewString("a", "1"),
		data.NewFolder("sub dir", data.NewString("x", "y")),
	))

	expectEvents(tst, r,
		`Added("", Folder)`,
		`Added("a", String "1")`,
		`Added("sub%20dir", Folder)`,
		`Added("sub%20dir/x", String "y")`,
	)

	if rec, ok := s.Known("sub%20dir"); !ok || rec.Name != "sub dir" || rec.Children != nil {
		tst.Errorf("Expected shallow record named %q, got %+v", "sub dir", rec)
	}
}

func TestOfferPathChildrenCompleteness(tst *testing.T) {
	r := newRecorder()
	s := NewState(r)

	s.OfferPathChildren("", []*data.Entry{
		data.NewString("a", "1"),
		data.NewString("b", "2"),
	})
	r.take()

	s.OfferPathChildren("", []*data.Entry{
		data.NewString("a", "1"),
		data.NewString("c", "3"),
	})

	expectEvents(tst, r, `Added("c", String "3")`, `Removed("b")`)
	if diff := cmp.Diff([]string{"a", "c"}, s.Paths()); diff != "" {
		tst.Errorf("paths mismatch (-want +got):\n%s", diff)
	}
}

func TestOfferPathChildrenOnlyDirectChildren(tst *testing.T) {
	r := newRecorder()
	s := NewState(r)

	s.OfferPath("x", data.NewFolder("x", data.NewFolder("y", data.NewString("z", "1"))))
	s.OfferPath("xy", data.NewString("xy", "sibling"))
	r.take()

	// "x/y/z" is not a direct child of "x" and "xy" is not under "x".
	s.OfferPathChildren("x", []*data.Entry{data.NewFolderStub("y")})
	expectEvents(tst, r)

	s.OfferPathChildren("x", nil)
	expectEvents(tst, r, `Removed("x/y")`)
	if diff := cmp.Diff([]string{"x", "xy"}, s.Paths()); diff != "" {
		tst.Errorf("paths mismatch (-want +got):\n%s", diff)
	}
}

func TestRemovalCascades(tst *testing.T) {
	r := newRecorder()
	s := NewState(r)

	s.OfferPath("x", data.NewFolderStub("x"))
	s.OfferPath("x/y", data.NewString("y", "v"))
	s.RemovePath("x")

	expectEvents(tst, r, `Added("x", Folder)`, `Added("x/y", String "v")`, `Removed("x")`)
	if _, ok := s.Known("x"); ok {
		tst.Errorf("Expected x to be forgotten")
	}
	if _, ok := s.Known("x/y"); ok {
		tst.Errorf("Expected x/y to be forgotten")
	}

	s.RemovePath("x")
	expectEvents(tst, r)
}

func TestReadyExactlyOnce(tst *testing.T) {
	r := newRecorder()
	s := NewState(r)

	s.MarkReady()
	s.MarkReady()
	s.MarkReady()

	expectEvents(tst, r, "Ready")
	if !s.IsReady() {
		tst.Errorf("Expected state to be ready")
	}
}

func TestProtocolBugs(tst *testing.T) {
	s := NewState(newRecorder())
	s.OfferPath("p", data.NewString("p", "v"))

	expectBug(tst, func() { s.OfferPath("q", nil) })
	expectBug(tst, func() { s.OfferPath("q", &data.Entry{Name: "q"}) })
	expectBug(tst, func() { s.OfferPath("p", data.NewFolderStub("p")) })
	expectBug(tst, func() { s.OfferPath("u", &data.Entry{Name: "u", Type: data.EntryType(99)}) })
}

func TestBlobDiff(tst *testing.T) {
	r := newRecorder()
	s := NewState(r)

	s.OfferPath("f", data.NewBlob("f", "text/plain", []byte("one")))
	s.OfferPath("f", data.NewBlob("f", "text/plain", []byte("one")))
	s.OfferPath("f", data.NewBlob("f", "text/plain", []byte("two")))

	expectEvents(tst, r, `Added("f", Blob)`, `Changed("f", Blob)`)
}

func TestTerminalDetaches(tst *testing.T) {
	r := newRecorder()
	s := NewState(r)

	failure := errors.New("store went away")
	s.MarkCrashed(failure)
	s.MarkDone()
	s.OfferPath("late", data.NewString("late", "v"))
	s.MarkReady()

	expectEvents(tst, r)
	if !errors.Is(r.failure, failure) {
		tst.Errorf("Expected crash error, got %v", r.failure)
	}
	if r.done {
		tst.Errorf("Expected Done to be suppressed after crash")
	}
	if !s.IsDetached() {
		tst.Errorf("Expected state to be detached")
	}
}

func TestQueueSlowConsumer(tst *testing.T) {
	q := NewQueue(1, 20*time.Millisecond)
	s := NewState(q)

	s.OfferPath("a", data.NewString("a", "1"))
	s.OfferPath("b", data.NewString("b", "2"))
	s.OfferPath("c", data.NewString("c", "3"))

	if !s.IsDetached() {
		tst.Fatalf("Expected slow consumer to detach the state")
	}
	if !errors.Is(q.Err(), data.ErrSlowConsumer) {
		tst.Errorf("Expected ErrSlowConsumer, got %v", q.Err())
	}

	var last Event
	for ev := range q.Events() {
		last = ev
	}
	if !errors.Is(last.Err, data.ErrSlowConsumer) {
		tst.Errorf("Expected terminal slow consumer event, got %+v", last)
	}
}

func TestQueueDelivers(tst *testing.T) {
	q := NewQueue(8, time.Second)
	s := NewState(q)

	s.OfferPath("a", data.NewString("a", "1"))
	s.MarkReady()
	s.MarkDone()

	var got []string
	for ev := range q.Events() {
		switch {
		case ev.Notification != nil:
			got = append(got, ev.Notification.String())
		case ev.Done:
			got = append(got, "done")
		}
	}

	if diff := cmp.Diff([]string{`Added("a", String "1")`, "Ready", "done"}, got); diff != "" {
		tst.Errorf("queue mismatch (-want +got):\n%s", diff)
	}
}

func TestQueueStop(tst *testing.T) {
	q := NewQueue(8, time.Second)
	q.Stop()

	if err := q.Next(data.Ready()); !errors.Is(err, data.ErrClosed) {
		tst.Errorf("Expected ErrClosed after stop, got %v", err)
	}
	select {
	case <-q.Stopped():
	default:
		tst.Errorf("Expected Stopped to be closed")
	}
}

func TestQueueTerminalKeepsBacklog(tst *testing.T) {
	q := NewQueue(2, 20*time.Millisecond)

	q.Next(data.Added("a", data.NewString("a", "1")))
	q.Next(data.Added("b", data.NewString("b", "2")))
	if err := q.Next(data.Added("c", data.NewString("c", "3"))); !errors.Is(err, data.ErrSlowConsumer) {
		tst.Fatalf("Expected ErrSlowConsumer on a full queue, got %v", err)
	}

	var got []string
	for ev := range q.Events() {
		switch {
		case ev.Notification != nil:
			got = append(got, ev.Notification.String())
		case ev.Err != nil:
			got = append(got, ev.Err.Error())
		}
	}
	want := []string{`Added("a", String "1")`, `Added("b", String "2")`, data.ErrSlowConsumer.Error()}
	if diff := cmp.Diff(want, got); diff != "" {
		tst.Errorf("queue mismatch (-want +got):\n%s", diff)
	}

	full := NewQueue(2, time.Second)
	full.Next(data.Added("a", data.NewString("a", "1")))
	full.Next(data.Ready())
	full.Done()

	got = nil
	for ev := range full.Events() {
		switch {
		case ev.Notification != nil:
			got = append(got, ev.Notification.String())
		case ev.Done:
			got = append(got, "done")
		}
	}
	if diff := cmp.Diff([]string{`Added("a", String "1")`, "Ready", "done"}, got); diff != "" {
		tst.Errorf("queue mismatch (-want +got):\n%s", diff)
	}
}

func TestQueueWaitsForRoom(tst *testing.T) {
	q := NewQueue(1, time.Second)
	q.Next(data.Ready())

	sent := make(chan error, 1)
	go func() {
		sent <- q.Next(data.Removed("a"))
	}()

	time.Sleep(10 * time.Millisecond)
	if ev := <-q.Events(); ev.Notification == nil || ev.Notification.Type != data.NotifyReady {
		tst.Fatalf("Expected Ready first, got %+v", ev)
	}
	if err := <-sent; err != nil {
		tst.Fatalf("Expected blocked Next to succeed once drained, got %v", err)
	}
	if ev := <-q.Events(); ev.Notification == nil || ev.Notification.String() != `Removed("a")` {
		tst.Errorf("Expected Removed a, got %+v", ev)
	}
}
