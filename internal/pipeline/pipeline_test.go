package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/outpostmail/outpost/internal/api"
	"github.com/outpostmail/outpost/internal/message"
	"github.com/outpostmail/outpost/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testUser = api.Identity{UserID: "user-1", Username: "alice"}

// fakeClient records every remote call and delegates to per-call hooks.
// Unset hooks behave like a healthy server.
type fakeClient struct {
	saveDraftFn func(ctx context.Context, user api.Identity, req api.SaveDraftRequest) (api.SaveDraftResponse, error)
	fetchFn     func(ctx context.Context, user api.Identity, emails []string) (map[string]api.RecipientKeys, error)
	sendFn      func(ctx context.Context, user api.Identity, serverID string, body api.SendRequestBody, senderAddressID string) error
	settingsFn  func(ctx context.Context, user api.Identity) (api.MailSettings, error)

	saveCalls     int
	fetchedEmails [][]string
	sentServerIDs []string
	sentBodies    []api.SendRequestBody
	sentSenders   []string
}

var _ api.Client = (*fakeClient)(nil)

func (f *fakeClient) SaveDraft(ctx context.Context, user api.Identity, req api.SaveDraftRequest) (api.SaveDraftResponse, error) {
	f.saveCalls++
	if f.saveDraftFn != nil {
		return f.saveDraftFn(ctx, user, req)
	}
	return api.SaveDraftResponse{ServerID: "srv-" + req.LocalID}, nil
}

func (f *fakeClient) FetchSendPreferences(ctx context.Context, user api.Identity, emails []string) (map[string]api.RecipientKeys, error) {
	f.fetchedEmails = append(f.fetchedEmails, append([]string(nil), emails...))
	if f.fetchFn != nil {
		return f.fetchFn(ctx, user, emails)
	}
	out := make(map[string]api.RecipientKeys, len(emails))
	for _, e := range emails {
		out[e] = api.RecipientKeys{}
	}
	return out, nil
}

func (f *fakeClient) SendMessage(ctx context.Context, user api.Identity, serverID string, body api.SendRequestBody, senderAddressID string) error {
	f.sentServerIDs = append(f.sentServerIDs, serverID)
	f.sentBodies = append(f.sentBodies, body)
	f.sentSenders = append(f.sentSenders, senderAddressID)
	if f.sendFn != nil {
		return f.sendFn(ctx, user, serverID, body, senderAddressID)
	}
	return nil
}

func (f *fakeClient) GetMailSettings(ctx context.Context, user api.Identity) (api.MailSettings, error) {
	if f.settingsFn != nil {
		return f.settingsFn(ctx, user)
	}
	return api.MailSettings{AutoSaveContacts: 1}, nil
}

// fakeCrypto is deterministic: session keys count up, and every encryption
// concatenates its inputs behind a tag so tests can assert structure.
type fakeCrypto struct {
	sessionKeys int
}

func (f *fakeCrypto) NewSessionKey() ([]byte, error) {
	f.sessionKeys++
	return []byte(fmt.Sprintf("sk-%d", f.sessionKeys)), nil
}

func (f *fakeCrypto) EncryptPackageBody(body, sessionKey []byte) ([]byte, error) {
	return []byte("body(" + string(body) + "," + string(sessionKey) + ")"), nil
}

func (f *fakeCrypto) EncryptSessionKey(sessionKey, recipientPublicKey []byte) ([]byte, error) {
	return []byte("wrap(" + string(sessionKey) + "," + string(recipientPublicKey) + ")"), nil
}

func (f *fakeCrypto) EncryptSessionKeyWithPassword(sessionKey []byte, password string) ([]byte, error) {
	return []byte("pw(" + string(sessionKey) + "," + password + ")"), nil
}

func internalKeys(pub string) api.RecipientKeys {
	return api.RecipientKeys{
		Internal: true,
		Keys:     []api.PublicKey{{Flags: api.KeyFlagEncryption | api.KeyFlagVerification, PublicKey: pub}},
	}
}

func externalKeys(pub string) api.RecipientKeys {
	return api.RecipientKeys{
		Keys: []api.PublicKey{{Flags: api.KeyFlagEncryption, PublicKey: pub}},
	}
}

func cleartextKeys(mime string) api.RecipientKeys {
	return api.RecipientKeys{MIMEType: mime}
}

// seedDraft persists a ready-to-send draft in the store.
func seedDraft(st store.Store, to ...string) *message.Draft {
	draft := message.NewDraft()
	draft.Subject = "status update"
	draft.Body = "hello there"
	draft.SenderAddressID = "addr-1"
	for _, addr := range to {
		draft.ToList = append(draft.ToList, message.RecipientAddress{Address: addr})
	}
	if err := st.SaveDraft(context.Background(), draft); err != nil {
		panic(err)
	}
	return draft
}

func paramsFor(draft *message.Draft) TaskParams {
	return TaskParams{
		User:                    testUser,
		MessageDBID:             draft.DBID,
		MessageLocalID:          draft.LocalID,
		AttachmentIDs:           draft.AttachmentIDs,
		ParentID:                draft.ParentID,
		ActionType:              draft.Action,
		PreviousSenderAddressID: draft.SenderAddressID,
		Security:                draft.Security,
	}
}

// newCoordinator wires a coordinator over a fresh memory store.
func newCoordinator(client *fakeClient) (*SendCoordinator, store.Store) {
	logger := discardLogger()
	st := store.NewMemory()
	if err := st.Connect(); err != nil {
		panic(err)
	}
	saver := NewDraftSaver(st, client, logger)
	resolver := NewResolver(client, nil, 0, logger)
	builder := NewPackageBuilder(&fakeCrypto{}, logger)
	return NewSendCoordinator(st, client, saver, resolver, builder, logger), st
}
