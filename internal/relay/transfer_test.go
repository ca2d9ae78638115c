package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oobind/internal/ceremony"
	"oobind/internal/model"
	"oobind/internal/protoerr"
)

func TestKeyRegistration_Steps(t *testing.T) {
	k := KeyRegistration{Algorithms: []string{"Ed25519"}}
	d := newDownloader(t)
	ctx := context.Background()
	sess := model.Session{ID: "s", State: model.StateInitialized}

	_, err := k.Step(ctx, sess, StepRegister, json.RawMessage(`{"algorithm":"Ed25519","publicKey":"`+d.key.Key+`"}`))
	assert.True(t, protoerr.Is(err, protoerr.CodeAlgorithmNotNegotiated))

	_, err = k.Step(ctx, sess, StepOffer, json.RawMessage(`{"algorithms":["RSA"]}`))
	assert.True(t, protoerr.Is(err, protoerr.CodeNoCompatibleAlgorithm))

	out, err := k.Step(ctx, sess, StepOffer, json.RawMessage(`{"algorithms":["RSA","Ed25519"]}`))
	require.NoError(t, err)
	assert.Equal(t, "Ed25519", out.OfferedAlgorithm)
	assert.Equal(t, "Ed25519", out.Response["algorithm"])
	assert.False(t, out.Done)

	sess.OfferedAlgorithm = out.OfferedAlgorithm
	_, err = k.Step(ctx, sess, StepRegister, json.RawMessage(`{"algorithm":"P-256","publicKey":"`+d.key.Key+`"}`))
	assert.True(t, protoerr.Is(err, protoerr.CodeAlgorithmMismatch))

	_, err = k.Step(ctx, sess, StepRegister, json.RawMessage(`{"algorithm":"Ed25519","publicKey":"short"}`))
	assert.True(t, protoerr.Is(err, protoerr.CodeSignatureError))

	out, err = k.Step(ctx, sess, StepRegister, json.RawMessage(`{"algorithm":"Ed25519","publicKey":"`+d.key.Key+`"}`))
	require.NoError(t, err)
	assert.True(t, out.Done)
	require.NotNil(t, out.SecondaryKey)
	assert.Equal(t, d.key, *out.SecondaryKey)

	_, err = k.Step(ctx, sess, "dance", nil)
	assert.True(t, protoerr.Is(err, protoerr.CodeInvalidStep))

	_, err = k.Step(ctx, sess, StepOffer, json.RawMessage(`{not json`))
	assert.True(t, protoerr.Is(err, protoerr.CodeInvalidRequest))
}

func TestTransferStager(t *testing.T) {
	r := New(time.Minute, nil)
	st := TransferStager{Relay: r, PublicURL: "https://relay.example/"}
	d := newDownloader(t)
	sess := model.Session{ID: "s", State: model.StatePreNegotiated, SecondaryKey: &d.key}
	ctx := context.Background()

	_, err := st.Stage(ctx, sess, ceremony.NegotiateRequest{SessionID: "s"})
	assert.True(t, protoerr.Is(err, protoerr.CodeMissingFileMetadata))

	_, err = st.Stage(ctx, sess, ceremony.NegotiateRequest{File: &model.FileMetadata{FileName: "a", FileSize: -1}})
	assert.True(t, protoerr.Is(err, protoerr.CodeMissingFileMetadata))

	_, err = st.Stage(ctx, model.Session{ID: "s"}, ceremony.NegotiateRequest{File: &model.FileMetadata{FileName: "a"}})
	assert.True(t, protoerr.Is(err, protoerr.CodePreNegotiationRequired))

	meta := model.FileMetadata{FileName: "report.pdf", FileSize: 3, FileType: "application/pdf"}
	staged, err := st.Stage(ctx, sess, ceremony.NegotiateRequest{File: &meta})
	require.NoError(t, err)

	result, ok := staged.Result.(TransferResult)
	require.True(t, ok)
	assert.Equal(t, meta, result.FileMetadata)
	assert.Equal(t, "https://relay.example/stream/"+result.StreamID+"/download", result.DownloadURL)
	assert.Equal(t, result.StreamID, staged.Response["stream_id"])
	assert.Equal(t, "https://relay.example/stream/"+result.StreamID+"/upload", staged.Response["upload_url"])

	secret, _ := staged.Response["upload_secret"].(string)
	require.NotEmpty(t, secret)
	status, ok := r.Status(result.StreamID)
	require.True(t, ok)
	assert.Equal(t, meta, status.FileMetadata)

	staged.Release()
	_, err = r.ConnectUploader(ctx, result.StreamID, secret, bytes.NewReader(nil))
	assert.True(t, protoerr.Is(err, protoerr.CodeStreamNotFound))
}
