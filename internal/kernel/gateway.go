package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/stealth-stack/stealthrun/internal/errors"
	"github.com/stealth-stack/stealthrun/internal/notebook"
	"github.com/stealth-stack/stealthrun/internal/runner"
)

// protocolVersion is the Jupyter messaging protocol version we speak.
const protocolVersion = "5.3"

// Gateway executes cells on a remote Jupyter kernel gateway. A single
// kernel is started on dial and shared by all cells of the run, so state
// carries from one cell to the next the way it does in a live notebook.
type Gateway struct {
	baseURL  *url.URL
	client   *http.Client
	kernelID string
	session  string
	conn     *websocket.Conn
	logger   *slog.Logger
}

// header is a Jupyter protocol message header.
type header struct {
	MsgID    string `json:"msg_id"`
	Username string `json:"username"`
	Session  string `json:"session"`
	MsgType  string `json:"msg_type"`
	Version  string `json:"version"`
	Date     string `json:"date"`
}

// wireMessage is a message on the gateway's channels websocket.
type wireMessage struct {
	Header       header         `json:"header"`
	ParentHeader header         `json:"parent_header"`
	Metadata     map[string]any `json:"metadata"`
	Content      map[string]any `json:"content"`
	Channel      string         `json:"channel"`
}

// DialGateway starts a kernel on the gateway and connects its channels
// websocket. Close shuts the kernel down again.
func DialGateway(ctx context.Context, gatewayURL, kernelName string, logger *slog.Logger) (*Gateway, error) {
	base, err := url.Parse(gatewayURL)
	if err != nil {
		return nil, errors.KernelGatewayError("parsing gateway url", err)
	}
	if kernelName == "" {
		kernelName = "python3"
	}

	g := &Gateway{
		baseURL: base,
		client:  &http.Client{Timeout: 30 * time.Second},
		session: uuid.NewString(),
		logger:  logger,
	}

	if err := g.startKernel(ctx, kernelName); err != nil {
		return nil, err
	}
	if err := g.dialChannels(ctx); err != nil {
		g.shutdownKernel(context.Background())
		return nil, err
	}

	logger.Info("kernel started", "gateway", base.Host, "kernel", g.kernelID)
	return g, nil
}

func (g *Gateway) startKernel(ctx context.Context, kernelName string) error {
	body, _ := json.Marshal(map[string]string{"name": kernelName})
	endpoint := g.baseURL.JoinPath("api", "kernels").String()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.KernelGatewayError("building kernel request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return errors.KernelStartFailed("gateway", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.KernelStartFailed("gateway",
			fmt.Errorf("gateway returned %s: %s", resp.Status, data))
	}

	var kernel struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&kernel); err != nil {
		return errors.KernelGatewayError("decoding kernel response", err)
	}
	g.kernelID = kernel.ID
	return nil
}

func (g *Gateway) dialChannels(ctx context.Context) error {
	wsURL := *g.baseURL
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	endpoint := wsURL.JoinPath("api", "kernels", g.kernelID, "channels").String()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return errors.KernelGatewayError("dialing channels", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	g.conn = conn
	return nil
}

// ExecuteCell sends the cell source as an execute_request and waits for the
// matching execute_reply. It satisfies runner.ExecuteFunc; only one request
// is ever in flight because the runner is strictly sequential.
func (g *Gateway) ExecuteCell(ctx context.Context, doc *notebook.Document, rng runner.Range) error {
	cell, ok := doc.Cell(rng.Start)
	if !ok {
		return errors.KernelExecFailed(rng.Start, fmt.Errorf("no cell at index"))
	}
	if !cell.IsCode() {
		g.logger.Debug("skipping non-code cell", "cell", rng.Start, "type", cell.Type)
		return nil
	}

	msgID := uuid.NewString()
	request := wireMessage{
		Header: header{
			MsgID:    msgID,
			Username: "stealthrun",
			Session:  g.session,
			MsgType:  "execute_request",
			Version:  protocolVersion,
			Date:     time.Now().UTC().Format(time.RFC3339),
		},
		Metadata: map[string]any{},
		Content: map[string]any{
			"code":          cell.SourceText(),
			"silent":        false,
			"store_history": true,
			"stop_on_error": true,
		},
		Channel: "shell",
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = g.conn.SetWriteDeadline(deadline)
		_ = g.conn.SetReadDeadline(deadline)
	} else {
		_ = g.conn.SetWriteDeadline(time.Time{})
		_ = g.conn.SetReadDeadline(time.Time{})
	}

	if err := g.conn.WriteJSON(request); err != nil {
		return errors.KernelGatewayError("sending execute_request", err)
	}

	return g.awaitReply(ctx, msgID, rng.Start)
}

// awaitReply drains channel traffic until the execute_reply parented by
// msgID arrives.
func (g *Gateway) awaitReply(ctx context.Context, msgID string, index int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var msg wireMessage
		if err := g.conn.ReadJSON(&msg); err != nil {
			return errors.KernelGatewayError("reading channel message", err)
		}

		// Kernels interleave iopub traffic (status, streams) with the
		// shell reply; everything not parented by our request is noise.
		if msg.ParentHeader.MsgID != msgID || msg.Header.MsgType != "execute_reply" {
			continue
		}

		status, _ := msg.Content["status"].(string)
		if status == "error" {
			ename, _ := msg.Content["ename"].(string)
			evalue, _ := msg.Content["evalue"].(string)
			return errors.KernelExecFailed(index, fmt.Errorf("%s: %s", ename, evalue)).
				WithDetail("ename", ename).
				WithDetail("evalue", evalue)
		}
		return nil
	}
}

// Close tears down the channels connection and shuts the kernel down.
func (g *Gateway) Close() error {
	var errs []string
	if g.conn != nil {
		if err := g.conn.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		g.conn = nil
	}
	if err := g.shutdownKernel(context.Background()); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing gateway: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (g *Gateway) shutdownKernel(ctx context.Context) error {
	if g.kernelID == "" {
		return nil
	}
	endpoint := g.baseURL.JoinPath("api", "kernels", g.kernelID).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	g.kernelID = ""
	return nil
}
