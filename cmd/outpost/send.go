package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/outpostmail/outpost/internal/api"
	"github.com/outpostmail/outpost/internal/message"
	"github.com/outpostmail/outpost/internal/pipeline"
	"github.com/outpostmail/outpost/internal/workqueue"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Enqueue a message and wait for delivery",
	Long:  "Compose a draft from flags, enqueue it, and run the pipeline to completion",
	RunE:  runSend,
}

var sendFlags struct {
	userID       string
	username     string
	to           []string
	cc           []string
	bcc          []string
	subject      string
	body         string
	bodyFile     string
	sender       string
	attachments  []string
	parentID     string
	action       string
	password     string
	passwordHint string
	expiresAfter int64
	timeout      time.Duration
}

func init() {
	f := sendCmd.Flags()
	f.StringVar(&sendFlags.userID, "user-id", "", "acting user id (required)")
	f.StringVar(&sendFlags.username, "username", "", "acting user name")
	f.StringSliceVar(&sendFlags.to, "to", nil, "recipient address (repeatable)")
	f.StringSliceVar(&sendFlags.cc, "cc", nil, "cc address (repeatable)")
	f.StringSliceVar(&sendFlags.bcc, "bcc", nil, "bcc address (repeatable)")
	f.StringVar(&sendFlags.subject, "subject", "", "message subject")
	f.StringVar(&sendFlags.body, "body", "", "message body")
	f.StringVar(&sendFlags.bodyFile, "body-file", "", "read the body from a file")
	f.StringVar(&sendFlags.sender, "sender-address", "", "sender address id")
	f.StringSliceVar(&sendFlags.attachments, "attachment", nil, "attachment id (repeatable)")
	f.StringVar(&sendFlags.parentID, "parent-id", "", "parent message id for replies and forwards")
	f.StringVar(&sendFlags.action, "action", "new", "draft action: new, reply, reply_all, forward")
	f.StringVar(&sendFlags.password, "password", "", "password for external recipients")
	f.StringVar(&sendFlags.passwordHint, "password-hint", "", "password hint")
	f.Int64Var(&sendFlags.expiresAfter, "expires-after", 0, "message expiry in seconds (password sends only)")
	f.DurationVar(&sendFlags.timeout, "timeout", 5*time.Minute, "how long to wait for delivery")
	_ = sendCmd.MarkFlagRequired("user-id")
	_ = sendCmd.MarkFlagRequired("to")
}

func addressList(addrs []string) []message.RecipientAddress {
	out := make([]message.RecipientAddress, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, message.RecipientAddress{Address: a})
	}
	return out
}

func runSend(cmd *cobra.Command, args []string) error {
	a, err := buildApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	body := sendFlags.body
	if sendFlags.bodyFile != "" {
		data, err := os.ReadFile(sendFlags.bodyFile)
		if err != nil {
			return fmt.Errorf("failed to read body file: %w", err)
		}
		body = string(data)
	}

	draft := message.NewDraft()
	draft.Subject = sendFlags.subject
	draft.Body = body
	draft.ToList = addressList(sendFlags.to)
	draft.CCList = addressList(sendFlags.cc)
	draft.BCCList = addressList(sendFlags.bcc)
	draft.SenderAddressID = sendFlags.sender
	draft.AttachmentIDs = sendFlags.attachments
	draft.ParentID = sendFlags.parentID
	draft.Action = message.ParseDraftAction(sendFlags.action)
	draft.Security = message.SecurityOptions{
		Password:            sendFlags.password,
		PasswordHint:        sendFlags.passwordHint,
		ExpiresAfterSeconds: sendFlags.expiresAfter,
	}

	user := api.Identity{UserID: sendFlags.userID, Username: sendFlags.username}

	if err := a.runtime.Start(); err != nil {
		return fmt.Errorf("failed to start work runtime: %w", err)
	}
	defer func() { _ = a.runtime.Stop() }()

	ctx, cancel := context.WithTimeout(context.Background(), sendFlags.timeout)
	defer cancel()

	enqueuer := pipeline.NewEnqueuer(a.store, a.runtime, a.logger)
	handle, err := enqueuer.Enqueue(ctx, user, draft)
	if err != nil {
		return err
	}
	fmt.Printf("Enqueued %s as unit %s\n", draft.LocalID, handle.ID)

	status, err := waitForUnit(ctx, a.runtime, handle)
	if err != nil {
		return err
	}
	switch status.State {
	case workqueue.StateDone:
		fmt.Println("Message sent.")
		return nil
	case workqueue.StateFailed:
		if reason, ok := status.Failure[pipeline.FailureKey]; ok {
			return fmt.Errorf("send failed: %s", reason)
		}
		return fmt.Errorf("send failed: %v", status.Failure)
	default:
		return fmt.Errorf("send still %s after %s", status.State, sendFlags.timeout)
	}
}

// waitForUnit polls the runtime until the unit settles or ctx expires.
func waitForUnit(ctx context.Context, runtime *workqueue.InProcRuntime, handle workqueue.Handle) (workqueue.UnitStatus, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var last workqueue.UnitStatus
	for {
		for _, status := range runtime.Snapshot() {
			if status.Handle.UniqueKey != handle.UniqueKey {
				continue
			}
			last = status
			if status.State == workqueue.StateDone || status.State == workqueue.StateFailed {
				return status, nil
			}
		}
		select {
		case <-ctx.Done():
			return last, nil
		case <-ticker.C:
		}
	}
}
