package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"saldobot/internal/entities"
)

type WhatsAppClient struct {
	Client *whatsmeow.Client
	logger *slog.Logger

	qrCode string
	qrLock sync.RWMutex
}

// NewWhatsAppClient opens the device store at dbPath and prepares a client.
// The session is paired on first Connect by scanning the QR code.
func NewWhatsAppClient(ctx context.Context, dbPath, logLevel string, logger *slog.Logger) (*WhatsAppClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dbLog := waLog.Stdout("Database", logLevel, true)
	container, err := sqlstore.New(ctx, "sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)", dbLog)
	if err != nil {
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}

	// Get the first device (or create one)
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	clientLog := waLog.Stdout("Client", logLevel, true)
	return &WhatsAppClient{
		Client: whatsmeow.NewClient(deviceStore, clientLog),
		logger: logger.With(slog.String("component", "whatsapp")),
	}, nil
}

func (w *WhatsAppClient) Connect(ctx context.Context) error {
	if w.Client.Store.ID != nil {
		if err := w.Client.Connect(); err != nil {
			return err
		}
		w.logger.Info("whatsapp connected (existing session)", slog.String("phone", w.GetPhoneNumber()))
		return nil
	}

	// No ID stored, new login
	qrChan, err := w.Client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("get qr channel: %w", err)
	}
	if err := w.Client.Connect(); err != nil {
		return err
	}
	go w.watchQR(qrChan)
	return nil
}

func (w *WhatsAppClient) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		if evt.Event == "code" {
			w.qrLock.Lock()
			w.qrCode = evt.Code
			w.qrLock.Unlock()
			w.logger.Info("whatsapp pairing code available at /whatsapp/qr")
			continue
		}
		w.qrLock.Lock()
		w.qrCode = ""
		w.qrLock.Unlock()
		w.logger.Info("whatsapp login event", slog.String("event", evt.Event))
	}
}

func (w *WhatsAppClient) GetQR() string {
	w.qrLock.RLock()
	defer w.qrLock.RUnlock()
	return w.qrCode
}

func (w *WhatsAppClient) IsLoggedIn() bool {
	return w.Client.Store.ID != nil
}

// IsConnected returns true if client is connected and logged in
func (w *WhatsAppClient) IsConnected() bool {
	return w.Client.IsConnected() && w.Client.Store.ID != nil
}

// GetPhoneNumber returns the connected phone number
func (w *WhatsAppClient) GetPhoneNumber() string {
	if w.Client.Store.ID == nil {
		return ""
	}
	return w.Client.Store.ID.User
}

func (w *WhatsAppClient) Logout(ctx context.Context) error {
	w.qrLock.Lock()
	w.qrCode = ""
	w.qrLock.Unlock()
	return w.Client.Logout(ctx)
}

func (w *WhatsAppClient) Disconnect() {
	w.Client.Disconnect()
}

// OnMessage registers handler for inbound text messages from other accounts
func (w *WhatsAppClient) OnMessage(handler func(entities.Message)) {
	w.Client.AddEventHandler(func(evt interface{}) {
		v, ok := evt.(*events.Message)
		if !ok {
			return
		}
		msg, ok := ParseMessage(v)
		if !ok {
			return
		}
		handler(msg)
	})
}

// SendMessage accepts a bare phone number or a full JID
func (w *WhatsAppClient) SendMessage(ctx context.Context, to, content string) error {
	jid, err := ToJID(to)
	if err != nil {
		return err
	}
	_, err = w.Client.SendMessage(ctx, jid, &waProto.Message{
		Conversation: &content,
	})
	if err != nil {
		return fmt.Errorf("send to %s: %w", jid.User, err)
	}
	return nil
}

func ToJID(to string) (types.JID, error) {
	to = strings.TrimPrefix(strings.TrimSpace(to), "+")
	if to == "" {
		return types.JID{}, fmt.Errorf("empty recipient")
	}
	if strings.Contains(to, "@") {
		jid, err := types.ParseJID(to)
		if err != nil {
			return types.JID{}, fmt.Errorf("invalid recipient %q: %w", to, err)
		}
		return jid, nil
	}
	return types.NewJID(to, types.DefaultUserServer), nil
}

// ParseMessage converts a whatsmeow event into a pipeline message.
// Own messages, groups, status broadcasts and non-text messages are skipped.
func ParseMessage(evt *events.Message) (entities.Message, bool) {
	if evt == nil || evt.Message == nil {
		return entities.Message{}, false
	}
	if evt.Info.IsFromMe || evt.Info.IsGroup || evt.Info.Chat.Server == types.BroadcastServer {
		return entities.Message{}, false
	}

	body := evt.Message.GetConversation()
	if body == "" {
		body = evt.Message.GetExtendedTextMessage().GetText()
	}
	if body == "" {
		return entities.Message{}, false
	}

	return entities.Message{
		ID:         evt.Info.ID,
		From:       evt.Info.Sender.ToNonAD().String(),
		Body:       body,
		Platform:   "whatsapp",
		ReceivedAt: evt.Info.Timestamp,
	}, true
}
