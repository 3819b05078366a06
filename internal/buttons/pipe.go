package buttons

import (
	"bufio"
	"context"
	"os"
	"strings"
	"time"

	logx "inkframe/pkg/logx"
)

// PipeSource reads presses from a named pipe, one per line:
//
//	a
//	b long
//
// The GPIO bridge process (or a human with echo) writes into the pipe.
// Open and read errors are retried with backoff so a restarted writer
// does not strand the source.
type PipeSource struct {
	path   string
	log    logx.Logger
	events chan Press
}

func NewPipeSource(path string, log logx.Logger) *PipeSource {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &PipeSource{
		path:   path,
		log:    log,
		events: make(chan Press, 8),
	}
}

func (s *PipeSource) Events() <-chan Press { return s.events }

// Run reads the pipe until ctx is done, then closes the event channel.
func (s *PipeSource) Run(ctx context.Context) {
	defer close(s.events)
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.readOnce(ctx); err != nil {
			s.log.Warn("button pipe read failed", logx.Err(err), logx.String("path", s.path))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 10*time.Second {
			backoff *= 2
		}
	}
}

func (s *PipeSource) readOnce(ctx context.Context) error {
	// Opening a FIFO for reading blocks until a writer appears; that is
	// the idle state, not an error.
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			f.Close()
		case <-done:
		}
	}()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		p, ok := parseLine(sc.Text())
		if !ok {
			continue
		}
		select {
		case s.events <- p:
		default:
			s.log.Debug("button press dropped, consumer slow")
		}
	}
	return sc.Err()
}

func parseLine(line string) (Press, bool) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return Press{}, false
	}
	p := Press{Button: fields[0]}
	if len(fields) > 1 && fields[1] == "long" {
		p.Long = true
	}
	return p, true
}
