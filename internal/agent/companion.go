package agent

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"oobind/internal/auth"
	"oobind/internal/model"
	"oobind/internal/protoerr"
)

// NegotiateResponse is what the companion receives from negotiate.
type NegotiateResponse struct {
	Status      string `json:"status"`
	PairingCode string `json:"pairing_code"`
	Message     string `json:"message,omitempty"`

	// File-transfer deployments.
	StreamID     string `json:"stream_id,omitempty"`
	UploadURL    string `json:"upload_url,omitempty"`
	UploadSecret string `json:"upload_secret,omitempty"`
}

// NegotiateIdentity negotiates a passkey-backed session with an assertion
// obtained from the service's passkey login ceremony.
func (c *Client) NegotiateIdentity(ctx context.Context, sessionID, username string, assertion json.RawMessage) (NegotiateResponse, error) {
	var resp NegotiateResponse
	err := c.postJSON(ctx, "/bind/negotiate", map[string]any{
		"session_id":        sessionID,
		"username":          username,
		"assertionResponse": assertion,
	}, &resp)
	return resp, err
}

// NegotiateTransfer negotiates a file-transfer session and returns the
// upload credentials for meta.
func (c *Client) NegotiateTransfer(ctx context.Context, sessionID string, meta model.FileMetadata) (NegotiateResponse, error) {
	var resp NegotiateResponse
	err := c.postJSON(ctx, "/bind/negotiate", map[string]any{
		"session_id": sessionID,
		"fileName":   meta.FileName,
		"fileSize":   meta.FileSize,
		"fileType":   meta.FileType,
	}, &resp)
	return resp, err
}

// RegisterDownloadKey returns the file-transfer pre-negotiation: offer
// Ed25519, then register downloadKey.
func RegisterDownloadKey(downloadKey ed25519.PublicKey) PreNegotiateFunc {
	return func(ctx context.Context, c *Client, sessionID string) error {
		resp, err := c.PreNegotiate(ctx, sessionID, "offer", map[string]any{
			"algorithms": []string{auth.AlgorithmEd25519},
		})
		if err != nil {
			return err
		}
		alg, _ := resp["algorithm"].(string)
		if alg != auth.AlgorithmEd25519 {
			return protoerr.New(protoerr.CodeAlgorithmRejected, "relay offered "+alg)
		}
		_, err = c.PreNegotiate(ctx, sessionID, "register", map[string]any{
			"algorithm": alg,
			"publicKey": base64.StdEncoding.EncodeToString(downloadKey),
		})
		return err
	}
}

// Upload streams body into the relay. The call returns once the paired
// download has drained the stream.
func (c *Client) Upload(ctx context.Context, streamID, secret string, body io.Reader) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.streamURL(streamID, "upload"), body)
	if err != nil {
		return 0, protoerr.Wrap(protoerr.CodeInvalidRequest, "build request", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Upload-Secret", secret)

	var resp struct {
		Bytes int64 `json:"bytes"`
	}
	if err := c.do(req, &resp); err != nil {
		return 0, err
	}
	return resp.Bytes, nil
}

type DownloadInfo struct {
	FileName    string
	ContentType string
	Bytes       int64
}

// Download proves possession of key and copies the stream into w. A body
// shorter than the declared file size is an error even when some bytes
// have already been written to w.
func (c *Client) Download(ctx context.Context, streamID string, key ed25519.PrivateKey, w io.Writer) (DownloadInfo, error) {
	message := "download " + streamID + " " + time.Now().UTC().Format(time.RFC3339Nano)
	proof, err := json.Marshal(map[string]string{
		"public_key": PublicKeyOf(key).Key,
		"message":    message,
		"signature":  sign(key, []byte(message)),
	})
	if err != nil {
		return DownloadInfo{}, protoerr.Wrap(protoerr.CodeInvalidRequest, "encode proof", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.streamURL(streamID, "download"), bytes.NewReader(proof))
	if err != nil {
		return DownloadInfo{}, protoerr.Wrap(protoerr.CodeInvalidRequest, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return DownloadInfo{}, transportError(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return DownloadInfo{}, decodeError(resp)
	}

	info := DownloadInfo{ContentType: resp.Header.Get("Content-Type")}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		info.FileName = params["filename"]
	}
	info.Bytes, err = io.Copy(w, resp.Body)
	if err != nil {
		return info, transportError(ctx, err)
	}
	if resp.ContentLength >= 0 && info.Bytes != resp.ContentLength {
		return info, protoerr.New(protoerr.CodeAborted, fmt.Sprintf("received %d of %d bytes", info.Bytes, resp.ContentLength))
	}
	return info, nil
}

func (c *Client) streamURL(streamID, leg string) string {
	return c.baseURL + "/stream/" + url.PathEscape(streamID) + "/" + leg
}
