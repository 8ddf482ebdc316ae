package smpp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linxGnu/gosmpp"
	"github.com/linxGnu/gosmpp/data"
	"github.com/linxGnu/gosmpp/pdu"

	"github.com/cascadetel/smppgw/internal/gateway/domain"
)

// GosmppTransport is the production Transport on top of gosmpp.
type GosmppTransport struct {
	logger *slog.Logger
}

// NewGosmppTransport creates the production transport.
func NewGosmppTransport(logger *slog.Logger) *GosmppTransport {
	return &GosmppTransport{logger: logger.With("component", "smpp_transport")}
}

// Connect dials and binds a transceiver session. Auto-rebind is disabled:
// the bind loop owns reconnection policy.
func (t *GosmppTransport) Connect(ctx context.Context, desc SessionDescriptor, receipts ReceiptHandler) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := &gosmppConn{
		desc:     desc,
		receipts: receipts,
		logger:   t.logger.With("session", desc.Key),
		pending:  make(map[int32]chan *pdu.SubmitSMResp),
	}

	auth := gosmpp.Auth{
		SMSC:       desc.Addr(),
		SystemID:   desc.SystemID,
		Password:   desc.Password,
		SystemType: desc.SystemType,
	}
	settings := gosmpp.Settings{
		EnquireLink:      desc.EnquireLinkInterval,
		WriteTimeout:     desc.SubmitTimeout,
		ReadTimeout:      2 * desc.EnquireLinkInterval,
		OnPDU:            c.onPDU,
		OnSubmitError:    c.onSubmitError,
		OnReceivingError: c.onReceivingError,
		OnClosed:         c.onClosed,
	}

	session, err := gosmpp.NewSession(gosmpp.TRXConnector(gosmpp.NonTLSDialer, auth), settings, 0)
	if err != nil {
		return nil, fmt.Errorf("bind to %s: %w", desc.Addr(), err)
	}

	c.session = session
	c.bound.Store(true)
	return c, nil
}

type gosmppConn struct {
	desc     SessionDescriptor
	logger   *slog.Logger
	receipts ReceiptHandler

	session *gosmpp.Session
	bound   atomic.Bool

	mu      sync.Mutex
	pending map[int32]chan *pdu.SubmitSMResp
}

func (c *gosmppConn) Bound() bool {
	return c.bound.Load()
}

func (c *gosmppConn) Close() error {
	c.bound.Store(false)
	c.failAllPending()
	return c.session.Close()
}

func (c *gosmppConn) Submit(ctx context.Context, msg *domain.OutboundMessage) (SubmitResult, error) {
	sm, err := c.buildSubmitSM(msg)
	if err != nil {
		return SubmitResult{}, err
	}

	seq := sm.GetSequenceNumber()
	ch := make(chan *pdu.SubmitSMResp, 1)
	c.mu.Lock()
	c.pending[seq] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
	}()

	start := time.Now()
	if err := c.session.Transceiver().Submit(sm); err != nil {
		return SubmitResult{}, fmt.Errorf("submit_sm write: %w", err)
	}

	timeout := c.desc.SubmitTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return SubmitResult{}, ctx.Err()
	case <-timer.C:
		return SubmitResult{}, fmt.Errorf("submit_sm response timeout after %s", timeout)
	case resp, ok := <-ch:
		if !ok || resp == nil {
			return SubmitResult{}, fmt.Errorf("session closed while awaiting submit_sm_resp")
		}
		latency := time.Since(start)
		if status := uint32(resp.GetHeader().CommandStatus); status != 0 {
			return SubmitResult{Latency: latency}, &StatusError{Status: status}
		}
		return SubmitResult{SMSCMsgID: strings.TrimSpace(resp.MessageID), Latency: latency}, nil
	}
}

func (c *gosmppConn) buildSubmitSM(msg *domain.OutboundMessage) (*pdu.SubmitSM, error) {
	source := msg.SourceAddr
	if source == "" {
		source = c.desc.SourceAddress
	}
	srcInfo := SourceAddress(source)
	dstInfo := DestinationAddress(msg.Msisdn)

	srcAddr := pdu.NewAddress()
	srcAddr.SetTon(srcInfo.TON)
	srcAddr.SetNpi(srcInfo.NPI)
	if err := srcAddr.SetAddress(srcInfo.Address); err != nil {
		return nil, fmt.Errorf("source address %q: %w", srcInfo.Address, err)
	}

	dstAddr := pdu.NewAddress()
	dstAddr.SetTon(dstInfo.TON)
	dstAddr.SetNpi(dstInfo.NPI)
	if err := dstAddr.SetAddress(dstInfo.Address); err != nil {
		return nil, fmt.Errorf("destination address %q: %w", dstInfo.Address, err)
	}

	sm := pdu.NewSubmitSM().(*pdu.SubmitSM)
	sm.SourceAddr = srcAddr
	sm.DestAddr = dstAddr
	sm.ServiceType = c.desc.ServiceType
	sm.RegisteredDelivery = 1 // request delivery receipts
	if err := sm.Message.SetMessageWithEncoding(msg.Body, data.GSM7BIT); err != nil {
		return nil, fmt.Errorf("encode short message: %w", err)
	}
	return sm, nil
}

func (c *gosmppConn) onPDU(p pdu.PDU, responded bool) {
	switch pd := p.(type) {
	case *pdu.SubmitSMResp:
		c.resolve(pd)
	case *pdu.DeliverSM:
		c.handleDeliver(pd)
	}
}

// resolve delivers a submit_sm_resp to its waiter. The send happens under
// c.mu so it cannot interleave with a close from failAllPending or
// onSubmitError; the channel is 1-buffered so the send never blocks.
func (c *gosmppConn) resolve(resp *pdu.SubmitSMResp) {
	c.mu.Lock()
	ch, ok := c.pending[resp.GetSequenceNumber()]
	if ok {
		select {
		case ch <- resp:
		default:
		}
	}
	c.mu.Unlock()
	if !ok {
		c.logger.Warn("submit_sm_resp for unknown sequence number",
			"sequence", resp.GetSequenceNumber())
	}
}

func (c *gosmppConn) handleDeliver(pd *pdu.DeliverSM) {
	ev := DeliverEvent{SessionKey: c.desc.Key}
	if text, err := pd.Message.GetMessage(); err == nil {
		ev.Text = text
	}
	if f, ok := pd.OptionalParameters[pdu.TagReceiptedMessageID]; ok {
		ev.ReceiptedMsgID = strings.TrimRight(f.String(), "\x00")
	}
	if f, ok := pd.OptionalParameters[pdu.TagMessageStateOption]; ok && len(f.Data) > 0 {
		state := f.Data[0]
		ev.MessageState = &state
	}
	if f, ok := pd.OptionalParameters[pdu.TagMessagePayload]; ok {
		ev.Payload = f.String()
	}

	if c.receipts == nil {
		return
	}
	// Dispatched off the reader goroutine; the receipt path touches the store.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c.receipts.HandleReceipt(ctx, ev)
	}()
}

func (c *gosmppConn) onSubmitError(p pdu.PDU, err error) {
	c.logger.Warn("failed to write PDU", "error", err)
	if sm, ok := p.(*pdu.SubmitSM); ok {
		c.mu.Lock()
		if ch, found := c.pending[sm.GetSequenceNumber()]; found {
			delete(c.pending, sm.GetSequenceNumber())
			close(ch)
		}
		c.mu.Unlock()
	}
}

func (c *gosmppConn) onReceivingError(err error) {
	c.logger.Warn("error reading from SMSC", "error", err)
}

func (c *gosmppConn) onClosed(state gosmpp.State) {
	c.bound.Store(false)
	c.failAllPending()
	c.logger.Info("wire session closed", "state", int(state))
}

func (c *gosmppConn) failAllPending() {
	c.mu.Lock()
	for seq, ch := range c.pending {
		delete(c.pending, seq)
		close(ch)
	}
	c.mu.Unlock()
}
