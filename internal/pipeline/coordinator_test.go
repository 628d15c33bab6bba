package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outpostmail/outpost/internal/api"
	"github.com/outpostmail/outpost/internal/message"
	"github.com/outpostmail/outpost/internal/workqueue"
)

func TestSendCoordinator(t *testing.T) {
	ctx := context.Background()

	t.Run("HappyPath", func(t *testing.T) {
		client := &fakeClient{
			fetchFn: func(_ context.Context, _ api.Identity, emails []string) (map[string]api.RecipientKeys, error) {
				return map[string]api.RecipientKeys{
					"bob@outpost.test":  internalKeys("pub-bob"),
					"carol@example.com": externalKeys("pub-carol"),
					"dave@example.com":  cleartextKeys(""),
					"erin@example.com":  cleartextKeys(""),
				}, nil
			},
		}
		coord, st := newCoordinator(client)
		draft := seedDraft(st, "bob@outpost.test", "carol@example.com", "dave@example.com", "erin@example.com")

		outcome := coord.Execute(ctx, paramsFor(draft), 0)
		require.Equal(t, OutcomeDone, outcome.Kind)

		// One send call, addressed by the server-assigned draft id.
		require.Len(t, client.sentServerIDs, 1)
		assert.Equal(t, "srv-"+draft.LocalID, client.sentServerIDs[0])
		assert.Equal(t, "addr-1", client.sentSenders[0])

		body := client.sentBodies[0]
		assert.Zero(t, body.ExpiresAfterSeconds)
		assert.Equal(t, 1, body.AutoSaveContacts)

		// Internal, pgp-mime and cleartext buckets: three packages, two
		// cleartext recipients sharing one.
		require.Len(t, body.Packages, 3)
		assert.Len(t, body.Packages[0].Recipients, 1)
		assert.Len(t, body.Packages[1].Recipients, 1)
		assert.Len(t, body.Packages[2].Recipients, 2)

		// The local draft now carries the server id.
		stored, err := st.FindByRowID(ctx, draft.DBID)
		require.NoError(t, err)
		assert.Equal(t, "srv-"+draft.LocalID, stored.ServerID)
	})

	t.Run("DedupesRecipientsBeforeKeyLookup", func(t *testing.T) {
		client := &fakeClient{}
		coord, st := newCoordinator(client)
		draft := seedDraft(st, "a@example.com", "a@example.com", "b@example.com")
		draft.CCList = []message.RecipientAddress{{Address: "c@example.com"}}
		draft.BCCList = []message.RecipientAddress{{Address: ""}, {Address: "d@example.com"}}
		require.NoError(t, st.SaveDraft(ctx, draft))

		outcome := coord.Execute(ctx, paramsFor(draft), 0)
		require.Equal(t, OutcomeDone, outcome.Kind)

		require.Len(t, client.fetchedEmails, 1)
		assert.Equal(t, []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com"}, client.fetchedEmails[0])
	})

	t.Run("PasswordRoundTripsExpiration", func(t *testing.T) {
		client := &fakeClient{}
		coord, st := newCoordinator(client)
		draft := seedDraft(st, "ext@example.com")
		draft.Security = message.SecurityOptions{
			Password:            "hunter2",
			PasswordHint:        "the usual",
			ExpiresAfterSeconds: 172800,
		}
		require.NoError(t, st.SaveDraft(ctx, draft))

		outcome := coord.Execute(ctx, paramsFor(draft), 0)
		require.Equal(t, OutcomeDone, outcome.Kind)

		body := client.sentBodies[0]
		assert.Equal(t, int64(172800), body.ExpiresAfterSeconds)
		require.Len(t, body.Packages, 1)
		pkg := body.Packages[0]
		assert.Equal(t, api.SchemeEncryptedOutside, pkg.Scheme)
		assert.Nil(t, pkg.BodyKey)
		auth := pkg.Recipients["ext@example.com"].PasswordAuth
		require.NotNil(t, auth)
		assert.Equal(t, "the usual", auth.PasswordHint)
	})

	t.Run("MessageNotFoundHasNoSideEffects", func(t *testing.T) {
		client := &fakeClient{}
		coord, _ := newCoordinator(client)

		params := TaskParams{User: testUser, MessageDBID: 404, MessageLocalID: "missing"}
		for _, attempt := range []int{0, 9} {
			outcome := coord.Execute(ctx, params, attempt)
			require.Equal(t, OutcomeFailed, outcome.Kind)
			assert.Equal(t, FailureMessageNotFound, outcome.Reason)
		}
		assert.Zero(t, client.saveCalls)
		assert.Empty(t, client.fetchedEmails)
		assert.Empty(t, client.sentServerIDs)
	})

	t.Run("LocalIDMismatchIsNotFound", func(t *testing.T) {
		client := &fakeClient{}
		coord, st := newCoordinator(client)
		draft := seedDraft(st, "a@example.com")

		params := paramsFor(draft)
		params.MessageLocalID = "someone-else"
		outcome := coord.Execute(ctx, params, 0)
		require.Equal(t, OutcomeFailed, outcome.Kind)
		assert.Equal(t, FailureMessageNotFound, outcome.Reason)
		assert.Zero(t, client.saveCalls)
	})

	t.Run("SaveFailureAbortsWithoutRetry", func(t *testing.T) {
		client := &fakeClient{
			saveDraftFn: func(context.Context, api.Identity, api.SaveDraftRequest) (api.SaveDraftResponse, error) {
				return api.SaveDraftResponse{}, &api.Error{StatusCode: 422, Message: "rejected"}
			},
		}
		coord, st := newCoordinator(client)
		draft := seedDraft(st, "a@example.com")

		outcome := coord.Execute(ctx, paramsFor(draft), 0)
		require.Equal(t, OutcomeFailed, outcome.Kind)
		assert.Equal(t, FailureDraftCreationFailed, outcome.Reason)
		assert.Empty(t, client.fetchedEmails)
		assert.Empty(t, client.sentServerIDs)
	})

	t.Run("DraftVanishedRetriesThenExhausts", func(t *testing.T) {
		client := &fakeClient{}
		coord, st := newCoordinator(client)

		// Delete the local row while the upsert is in flight, so the
		// post-save re-fetch misses.
		vanishing := func(rowID int64, serverID string) func(context.Context, api.Identity, api.SaveDraftRequest) (api.SaveDraftResponse, error) {
			return func(context.Context, api.Identity, api.SaveDraftRequest) (api.SaveDraftResponse, error) {
				_ = st.DeleteDraft(context.Background(), rowID)
				return api.SaveDraftResponse{ServerID: serverID}, nil
			}
		}

		draft := seedDraft(st, "a@example.com")
		client.saveDraftFn = vanishing(draft.DBID, "srv-x")
		outcome := coord.Execute(ctx, paramsFor(draft), 0)
		assert.Equal(t, OutcomeRetry, outcome.Kind)

		// Past the ceiling the vanished draft converts to MessageNotFound.
		draft2 := seedDraft(st, "a@example.com")
		client.saveDraftFn = vanishing(draft2.DBID, "srv-y")
		outcome = coord.Execute(ctx, paramsFor(draft2), MaxRetryAttempts+1)
		require.Equal(t, OutcomeFailed, outcome.Kind)
		assert.Equal(t, FailureMessageNotFound, outcome.Reason)
	})

	t.Run("PreferenceFetchRetriesThenExhausts", func(t *testing.T) {
		client := &fakeClient{
			fetchFn: func(context.Context, api.Identity, []string) (map[string]api.RecipientKeys, error) {
				return nil, errors.New("connection reset")
			},
		}
		coord, st := newCoordinator(client)
		draft := seedDraft(st, "a@example.com")

		outcome := coord.Execute(ctx, paramsFor(draft), 2)
		assert.Equal(t, OutcomeRetry, outcome.Kind)

		outcome = coord.Execute(ctx, paramsFor(draft), MaxRetryAttempts+1)
		require.Equal(t, OutcomeFailed, outcome.Kind)
		assert.Equal(t, FailureFetchSendPreferencesFailed, outcome.Reason)
		assert.Empty(t, client.sentServerIDs)
	})

	t.Run("MissingPreferenceFailsImmediately", func(t *testing.T) {
		client := &fakeClient{
			fetchFn: func(_ context.Context, _ api.Identity, emails []string) (map[string]api.RecipientKeys, error) {
				// Lookup succeeds but omits one recipient.
				return map[string]api.RecipientKeys{emails[0]: cleartextKeys("")}, nil
			},
		}
		coord, st := newCoordinator(client)
		draft := seedDraft(st, "a@example.com", "b@example.com")

		outcome := coord.Execute(ctx, paramsFor(draft), 0)
		require.Equal(t, OutcomeFailed, outcome.Kind)
		assert.Equal(t, FailureFetchSendPreferencesFailed, outcome.Reason)
		assert.Empty(t, client.sentServerIDs)
	})

	t.Run("TransientSendFailureRetries", func(t *testing.T) {
		client := &fakeClient{
			sendFn: func(context.Context, api.Identity, string, api.SendRequestBody, string) error {
				return &api.Error{StatusCode: 503, Message: "try later"}
			},
		}
		coord, st := newCoordinator(client)
		draft := seedDraft(st, "a@example.com")

		outcome := coord.Execute(ctx, paramsFor(draft), 1)
		assert.Equal(t, OutcomeRetry, outcome.Kind)

		outcome = coord.Execute(ctx, paramsFor(draft), MaxRetryAttempts+1)
		require.Equal(t, OutcomeFailed, outcome.Kind)
		assert.Equal(t, FailureMessageSendFailed, outcome.Reason)
	})

	t.Run("PermanentSendFailureAbortsImmediately", func(t *testing.T) {
		client := &fakeClient{
			sendFn: func(context.Context, api.Identity, string, api.SendRequestBody, string) error {
				return &api.Error{StatusCode: 422, Message: "invalid packages"}
			},
		}
		coord, st := newCoordinator(client)
		draft := seedDraft(st, "a@example.com")

		outcome := coord.Execute(ctx, paramsFor(draft), 0)
		require.Equal(t, OutcomeFailed, outcome.Kind)
		assert.Equal(t, FailureMessageSendFailed, outcome.Reason)
	})

	t.Run("SettingsLookupFailureDoesNotBlockSend", func(t *testing.T) {
		client := &fakeClient{
			settingsFn: func(context.Context, api.Identity) (api.MailSettings, error) {
				return api.MailSettings{}, errors.New("settings unavailable")
			},
		}
		coord, st := newCoordinator(client)
		draft := seedDraft(st, "a@example.com")

		outcome := coord.Execute(ctx, paramsFor(draft), 0)
		require.Equal(t, OutcomeDone, outcome.Kind)
		assert.Zero(t, client.sentBodies[0].AutoSaveContacts)
	})

	t.Run("ReplayAfterSuccessIsIdempotent", func(t *testing.T) {
		client := &fakeClient{}
		coord, st := newCoordinator(client)
		draft := seedDraft(st, "a@example.com")

		params := paramsFor(draft)
		require.Equal(t, OutcomeDone, coord.Execute(ctx, params, 0).Kind)
		require.Equal(t, OutcomeDone, coord.Execute(ctx, params, 0).Kind)

		// Both sends address the same server id: the upsert is keyed by
		// local id, so the replay reuses the draft instead of forking it.
		require.Len(t, client.sentServerIDs, 2)
		assert.Equal(t, client.sentServerIDs[0], client.sentServerIDs[1])
	})

	t.Run("NoRecipientsSendsZeroPackages", func(t *testing.T) {
		client := &fakeClient{}
		coord, st := newCoordinator(client)
		draft := seedDraft(st)

		outcome := coord.Execute(ctx, paramsFor(draft), 0)
		require.Equal(t, OutcomeDone, outcome.Kind)
		assert.Empty(t, client.fetchedEmails)
		require.Len(t, client.sentBodies, 1)
		assert.Empty(t, client.sentBodies[0].Packages)
	})
}

func TestExecutor(t *testing.T) {
	ctx := context.Background()

	t.Run("RunsDecodedParams", func(t *testing.T) {
		client := &fakeClient{}
		coord, st := newCoordinator(client)
		draft := seedDraft(st, "a@example.com")

		payload, err := paramsFor(draft).Encode()
		require.NoError(t, err)

		result := NewExecutor(coord, discardLogger()).Execute(ctx, payload, 0)
		assert.Equal(t, workqueue.ResultDone, result.Kind)
		assert.Len(t, client.sentServerIDs, 1)
	})

	t.Run("UndecodablePayloadFailsOutsideReasonVocabulary", func(t *testing.T) {
		client := &fakeClient{}
		coord, _ := newCoordinator(client)

		result := NewExecutor(coord, discardLogger()).Execute(ctx, workqueue.Payload{"junk": "x"}, 0)
		require.Equal(t, workqueue.ResultFailed, result.Kind)
		assert.NotContains(t, result.Failure, FailureKey)
		assert.Contains(t, result.Failure, "error")
		assert.Zero(t, client.saveCalls)
	})

	t.Run("FailureReasonReachesResultPayload", func(t *testing.T) {
		client := &fakeClient{}
		coord, _ := newCoordinator(client)

		params := TaskParams{User: testUser, MessageDBID: 404, MessageLocalID: "missing"}
		payload, err := params.Encode()
		require.NoError(t, err)

		result := NewExecutor(coord, discardLogger()).Execute(ctx, payload, 0)
		require.Equal(t, workqueue.ResultFailed, result.Kind)
		assert.Equal(t, string(FailureMessageNotFound), result.Failure[FailureKey])
	})
}

func TestTaskParamsCodec(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		params := TaskParams{
			User:                    testUser,
			MessageDBID:             7,
			MessageLocalID:          "local-7",
			AttachmentIDs:           []string{"att-1", "att-2"},
			ParentID:                "parent-3",
			ActionType:              message.ActionReplyAll,
			PreviousSenderAddressID: "addr-9",
			Security: message.SecurityOptions{
				Password:            "hunter2",
				PasswordHint:        "the usual",
				ExpiresAfterSeconds: 172800,
			},
		}

		payload, err := params.Encode()
		require.NoError(t, err)
		decoded, err := DecodeTaskParams(payload)
		require.NoError(t, err)
		assert.Equal(t, params, decoded)
	})

	t.Run("RejectsMissingIdentifiers", func(t *testing.T) {
		_, err := TaskParams{User: testUser}.Encode()
		assert.Error(t, err)

		_, err = DecodeTaskParams(workqueue.Payload{
			keyUserID:         "u",
			keyMessageDBID:    "not-a-number",
			keyMessageLocalID: "l",
		})
		assert.Error(t, err)
	})
}
