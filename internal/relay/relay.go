// Package relay pairs one authenticated uploader with one signature-verified
// downloader through a single unbuffered pipe per stream.
package relay

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"oobind/internal/auth"
	"oobind/internal/logging"
	"oobind/internal/model"
	"oobind/internal/protoerr"
	"oobind/internal/telemetry"
)

var (
	errTornDown     = errors.New("stream torn down")
	errSizeMismatch = errors.New("upload does not match declared size")
)

type Ticket struct {
	StreamID     string
	UploadSecret string
}

type Relay struct {
	mu      sync.Mutex
	streams map[string]*stream
	grace   time.Duration
	log     logging.Logger
	now     func() time.Time
}

type stream struct {
	id           string
	meta         model.FileMetadata
	uploadSecret string
	downloadKey  model.PublicKey
	createdAt    time.Time

	state               model.StreamState
	uploaderConnected   bool
	downloaderConnected bool
	downloaderFinished  bool
	finishedAt          time.Time
	bytes               atomic.Int64

	pr *io.PipeReader
	pw *io.PipeWriter

	// downloaderReady is closed when the downloader attaches; done when the
	// stream finishes or fails.
	downloaderReady chan struct{}
	done            chan struct{}
	err             error
}

// New returns a relay that keeps finished streams for grace before
// dropping them.
func New(grace time.Duration, log logging.Logger) *Relay {
	if log == nil {
		log = logging.Discard()
	}
	return &Relay{
		streams: make(map[string]*stream),
		grace:   grace,
		log:     log,
		now:     time.Now,
	}
}

// Create registers a stream for meta whose downloader must prove possession
// of downloadKey.
func (r *Relay) Create(meta model.FileMetadata, downloadKey model.PublicKey) Ticket {
	pr, pw := io.Pipe()
	st := &stream{
		id:              uuid.NewString(),
		meta:            meta,
		uploadSecret:    uuid.NewString(),
		downloadKey:     downloadKey,
		createdAt:       r.now(),
		state:           model.StreamAwaitingBoth,
		pr:              pr,
		pw:              pw,
		downloaderReady: make(chan struct{}),
		done:            make(chan struct{}),
	}

	r.mu.Lock()
	r.streams[st.id] = st
	r.mu.Unlock()

	return Ticket{StreamID: st.id, UploadSecret: st.uploadSecret}
}

// Remove tears a stream down at once.
func (r *Relay) Remove(id string) {
	r.mu.Lock()
	st, ok := r.streams[id]
	delete(r.streams, id)
	r.mu.Unlock()
	if ok {
		r.fail(st, errTornDown)
	}
}

// SweepIdle tears down streams that nobody has connected to within maxAge,
// such as those orphaned by a repeated negotiate.
func (r *Relay) SweepIdle(maxAge time.Duration) int {
	now := r.now()
	var idle []*stream

	r.mu.Lock()
	for id, st := range r.streams {
		if st.state == model.StreamAwaitingBoth && !st.uploaderConnected && !st.downloaderConnected &&
			now.Sub(st.createdAt) >= maxAge {
			delete(r.streams, id)
			idle = append(idle, st)
		}
	}
	r.mu.Unlock()

	for _, st := range idle {
		r.fail(st, errTornDown)
	}
	return len(idle)
}

// Run sweeps idle streams every interval until ctx is done.
func (r *Relay) Run(ctx context.Context, interval, maxAge time.Duration) error {
	if interval <= 0 || maxAge <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.SweepIdle(maxAge); n > 0 {
				r.log.Info(ctx, "idle streams removed", "count", n)
			}
		}
	}
}

func (r *Relay) Status(id string) (model.StreamStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.streams[id]
	if !ok {
		return model.StreamStatus{}, false
	}
	return model.StreamStatus{
		ID:                  st.id,
		State:               st.state,
		FileMetadata:        st.meta,
		UploaderConnected:   st.uploaderConnected,
		DownloaderConnected: st.downloaderConnected,
		DownloaderFinished:  st.downloaderFinished,
		BytesTransferred:    st.bytes.Load(),
		CreatedAt:           st.createdAt,
		FinishedAt:          st.finishedAt,
	}, true
}

// ConnectUploader attaches the uploader and blocks until the transfer is
// over. body is not read until the downloader has attached; after that it is
// written through the pipe at the downloader's pace. A body that ends before
// or runs past the declared file size fails the stream. It returns the number
// of bytes relayed.
func (r *Relay) ConnectUploader(ctx context.Context, id, secret string, body io.Reader) (_ int64, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "relay.upload", trace.WithAttributes(attribute.String("stream.id", id)))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	r.mu.Lock()
	st, ok := r.streams[id]
	switch {
	case !ok:
		r.mu.Unlock()
		return 0, protoerr.New(protoerr.CodeStreamNotFound, "stream not found")
	case st.uploaderConnected:
		r.mu.Unlock()
		return 0, protoerr.New(protoerr.CodeUploaderAlreadyConnected, "uploader already connected")
	case subtle.ConstantTimeCompare([]byte(secret), []byte(st.uploadSecret)) != 1:
		r.mu.Unlock()
		return 0, protoerr.New(protoerr.CodeInvalidUploadSec, "invalid upload secret")
	}
	st.uploaderConnected = true
	r.mu.Unlock()

	r.log.Info(ctx, "uploader connected", "stream", short(id))

	select {
	case <-st.downloaderReady:
	case <-st.done:
		return 0, r.streamErr(st)
	case <-ctx.Done():
		r.fail(st, ctx.Err())
		return 0, protoerr.Wrap(protoerr.CodeAborted, "uploader gone", ctx.Err())
	}

	stop := context.AfterFunc(ctx, func() { st.pw.CloseWithError(ctx.Err()) })
	defer stop()

	n, err := io.Copy(&countingWriter{w: st.pw, n: &st.bytes}, io.LimitReader(body, st.meta.FileSize))
	if err == nil {
		err = checkSize(body, st.meta.FileSize, n)
	}
	if err != nil {
		r.fail(st, err)
		return n, protoerr.Wrap(protoerr.CodeAborted, "transfer interrupted", err)
	}
	_ = st.pw.Close()

	select {
	case <-st.done:
	case <-ctx.Done():
		r.fail(st, ctx.Err())
		return n, protoerr.Wrap(protoerr.CodeAborted, "uploader gone", ctx.Err())
	}
	if err := r.streamErr(st); err != nil {
		return n, err
	}

	span.SetAttributes(attribute.Int64("stream.bytes", n))
	r.log.Info(ctx, "upload finished", "stream", short(id), "bytes", n)
	return n, nil
}

// Attach verifies the downloader's proof and attaches it. A proof that does
// not verify never attaches and leaves a waiting uploader paused.
func (r *Relay) Attach(ctx context.Context, id string, publicKey model.PublicKey, message []byte, signature string) (*Download, error) {
	r.mu.Lock()
	st, ok := r.streams[id]
	if !ok || st.closed() {
		r.mu.Unlock()
		return nil, protoerr.New(protoerr.CodeStreamNotFound, "stream not found")
	}
	if st.downloaderConnected {
		r.mu.Unlock()
		return nil, protoerr.New(protoerr.CodeDownloaderAlreadyConnected, "downloader already connected")
	}
	registered := st.downloadKey
	r.mu.Unlock()

	if publicKey.Key != registered.Key ||
		(publicKey.Algorithm != "" && publicKey.Algorithm != registered.Algorithm) {
		return nil, protoerr.New(protoerr.CodeInvalidPublicKey, "public key does not match registration")
	}
	if err := auth.VerifySignature(registered, message, signature); err != nil {
		if auth.IsMalformed(err) {
			return nil, protoerr.Wrap(protoerr.CodeSignatureError, "undecodable signature or key", err)
		}
		return nil, protoerr.Wrap(protoerr.CodeInvalidSignature, "signature does not verify", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.streams[id] != st || st.closed() {
		return nil, protoerr.New(protoerr.CodeStreamNotFound, "stream not found")
	}
	if st.downloaderConnected {
		return nil, protoerr.New(protoerr.CodeDownloaderAlreadyConnected, "downloader already connected")
	}
	st.downloaderConnected = true
	if st.state == model.StreamAwaitingBoth {
		st.state = model.StreamRelaying
	}
	close(st.downloaderReady)

	r.log.Info(ctx, "downloader connected", "stream", short(id))
	return &Download{relay: r, stream: st}, nil
}

// Download is an attached downloader.
type Download struct {
	relay  *Relay
	stream *stream
}

func (d *Download) Metadata() model.FileMetadata { return d.stream.meta }

// Stream copies the uploader's bytes to w as they arrive and finishes the
// stream when the uploader's body is exhausted.
func (d *Download) Stream(ctx context.Context, w io.Writer) (_ int64, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "relay.download", trace.WithAttributes(attribute.String("stream.id", d.stream.id)))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	st := d.stream
	stop := context.AfterFunc(ctx, func() { st.pr.CloseWithError(ctx.Err()) })
	defer stop()

	n, err := io.Copy(w, st.pr)
	if err != nil {
		d.relay.fail(st, err)
		return n, protoerr.Wrap(protoerr.CodeAborted, "transfer interrupted", err)
	}
	d.relay.finish(st)

	span.SetAttributes(attribute.Int64("stream.bytes", n))
	d.relay.log.Info(ctx, "download finished", "stream", short(st.id), "bytes", n)
	return n, nil
}

// closed reports whether st has finished or failed. Callers hold r.mu.
func (st *stream) closed() bool {
	return st.state == model.StreamFinished || st.state == model.StreamFailed
}

func (r *Relay) finish(st *stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st.closed() {
		return
	}
	st.state = model.StreamFinished
	st.downloaderFinished = true
	st.finishedAt = r.now()
	close(st.done)
	r.scheduleRemoval(st)
}

func (r *Relay) fail(st *stream, cause error) {
	r.mu.Lock()
	if st.closed() {
		r.mu.Unlock()
		return
	}
	st.state = model.StreamFailed
	st.err = cause
	st.finishedAt = r.now()
	close(st.done)
	r.scheduleRemoval(st)
	r.mu.Unlock()

	st.pw.CloseWithError(cause)
	st.pr.CloseWithError(cause)
	r.log.Warn(context.Background(), "stream failed", "stream", short(st.id), "error", cause)
}

func (r *Relay) streamErr(st *stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st.state == model.StreamFailed {
		return protoerr.Wrap(protoerr.CodeAborted, "stream torn down", st.err)
	}
	return nil
}

// scheduleRemoval drops st after the grace window. Callers hold r.mu.
func (r *Relay) scheduleRemoval(st *stream) {
	remove := func() {
		r.mu.Lock()
		if r.streams[st.id] == st {
			delete(r.streams, st.id)
		}
		r.mu.Unlock()
	}
	if r.grace <= 0 {
		delete(r.streams, st.id)
		return
	}
	time.AfterFunc(r.grace, remove)
}

// checkSize reports whether the uploader delivered exactly want bytes. body
// has already been drained up to want.
func checkSize(body io.Reader, want, got int64) error {
	if got < want {
		return fmt.Errorf("%w: received %d of %d bytes", errSizeMismatch, got, want)
	}
	var extra [1]byte
	if k, _ := io.ReadFull(body, extra[:]); k > 0 {
		return fmt.Errorf("%w: body exceeds %d bytes", errSizeMismatch, want)
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n *atomic.Int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n.Add(int64(n))
	return n, err
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
