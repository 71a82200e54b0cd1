package whatsapp

import (
	"context"
	"errors"

	"google.golang.org/protobuf/proto"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
)

// SendText delivers a plain text message from an instance's session and
// returns the message ID.
func SendText(ctx context.Context, instanceID string, recipient string, message string) (string, error) {
	session := getSession(instanceID)
	if session == nil {
		return "", ErrSessionNotFound
	}
	return session.SendText(ctx, recipient, message)
}

// SendImage delivers an image with an optional caption and returns the
// message ID.
func SendImage(ctx context.Context, instanceID string, recipient string, imageBytes []byte, imageType string, caption string) (string, error) {
	session := getSession(instanceID)
	if session == nil {
		return "", ErrSessionNotFound
	}
	return session.SendImage(ctx, recipient, imageBytes, imageType, caption)
}

// SendDocument delivers an arbitrary file as a document message and returns
// the message ID.
func SendDocument(ctx context.Context, instanceID string, recipient string, documentBytes []byte, documentType string, fileName string) (string, error) {
	session := getSession(instanceID)
	if session == nil {
		return "", ErrSessionNotFound
	}
	return session.SendDocument(ctx, recipient, documentBytes, documentType, fileName)
}

// beginSend gates a send on the ready state and the per-instance throttle.
// The returned context carries the per-request deadline; callers must cancel
// it.
func (s *Session) beginSend(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if !s.State().CanSend() {
		return nil, nil, ErrSessionNotReady
	}
	sendCtx, cancel := context.WithTimeout(ctx, sendRequestTimeout)
	if err := s.limiter.Wait(sendCtx); err != nil {
		cancel()
		return nil, nil, ErrSendTimeout
	}
	return sendCtx, cancel, nil
}

func mapSendError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrSendTimeout
	}
	return err
}

func (s *Session) SendText(ctx context.Context, recipient string, message string) (string, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	sendCtx, cancel, err := s.beginSend(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	remoteJID, err := s.resolveRecipient(sendCtx, recipient)
	if err != nil {
		return "", mapSendError(err)
	}

	msgExtra := whatsmeow.SendRequestExtra{ID: s.client.GenerateMessageID()}
	msgContent := &waE2E.Message{
		Conversation: proto.String(message),
	}
	if _, err = s.client.SendMessage(sendCtx, remoteJID, msgContent, msgExtra); err != nil {
		return "", mapSendError(err)
	}
	return msgExtra.ID, nil
}

func (s *Session) SendImage(ctx context.Context, recipient string, imageBytes []byte, imageType string, caption string) (string, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	sendCtx, cancel, err := s.beginSend(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	remoteJID, err := s.resolveRecipient(sendCtx, recipient)
	if err != nil {
		return "", mapSendError(err)
	}

	s.composeStatus(sendCtx, remoteJID, true)
	defer s.composeStatus(context.Background(), remoteJID, false)

	imageBytes, imageType, err = prepareImage(imageBytes, imageType)
	if err != nil {
		return "", err
	}
	thumbnailBytes, err := renderThumbnail(imageBytes)
	if err != nil {
		return "", err
	}

	imageUploaded, err := s.client.Upload(sendCtx, imageBytes, whatsmeow.MediaImage)
	if err != nil {
		return "", mapSendError(err)
	}
	thumbnailUploaded, err := s.client.Upload(sendCtx, thumbnailBytes, whatsmeow.MediaLinkThumbnail)
	if err != nil {
		return "", mapSendError(err)
	}

	msgExtra := whatsmeow.SendRequestExtra{ID: s.client.GenerateMessageID()}
	msgContent := &waE2E.Message{
		ImageMessage: &waE2E.ImageMessage{
			URL:                 proto.String(imageUploaded.URL),
			DirectPath:          proto.String(imageUploaded.DirectPath),
			Mimetype:            proto.String(imageType),
			Caption:             proto.String(caption),
			FileLength:          proto.Uint64(imageUploaded.FileLength),
			FileSHA256:          imageUploaded.FileSHA256,
			FileEncSHA256:       imageUploaded.FileEncSHA256,
			MediaKey:            imageUploaded.MediaKey,
			JPEGThumbnail:       thumbnailBytes,
			ThumbnailDirectPath: &thumbnailUploaded.DirectPath,
			ThumbnailSHA256:     thumbnailUploaded.FileSHA256,
			ThumbnailEncSHA256:  thumbnailUploaded.FileEncSHA256,
		},
	}
	if _, err = s.client.SendMessage(sendCtx, remoteJID, msgContent, msgExtra); err != nil {
		return "", mapSendError(err)
	}
	return msgExtra.ID, nil
}

func (s *Session) SendDocument(ctx context.Context, recipient string, documentBytes []byte, documentType string, fileName string) (string, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	sendCtx, cancel, err := s.beginSend(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	remoteJID, err := s.resolveRecipient(sendCtx, recipient)
	if err != nil {
		return "", mapSendError(err)
	}

	s.composeStatus(sendCtx, remoteJID, true)
	defer s.composeStatus(context.Background(), remoteJID, false)

	documentUploaded, err := s.client.Upload(sendCtx, documentBytes, whatsmeow.MediaDocument)
	if err != nil {
		return "", mapSendError(err)
	}

	msgExtra := whatsmeow.SendRequestExtra{ID: s.client.GenerateMessageID()}
	msgContent := &waE2E.Message{
		DocumentMessage: &waE2E.DocumentMessage{
			URL:           proto.String(documentUploaded.URL),
			DirectPath:    proto.String(documentUploaded.DirectPath),
			Mimetype:      proto.String(documentType),
			FileName:      proto.String(fileName),
			FileLength:    proto.Uint64(documentUploaded.FileLength),
			FileSHA256:    documentUploaded.FileSHA256,
			FileEncSHA256: documentUploaded.FileEncSHA256,
			MediaKey:      documentUploaded.MediaKey,
		},
	}
	if _, err = s.client.SendMessage(sendCtx, remoteJID, msgContent, msgExtra); err != nil {
		return "", mapSendError(err)
	}
	return msgExtra.ID, nil
}

func (s *Session) composeStatus(ctx context.Context, remoteJID types.JID, composing bool) {
	presence := types.ChatPresencePaused
	if composing {
		presence = types.ChatPresenceComposing
	}
	_ = s.client.SendChatPresence(ctx, remoteJID, presence, types.ChatPresenceMediaText)
}

// UserProfile is what an instance can learn about a recipient number.
type UserProfile struct {
	JID          string `json:"jid"`
	IsRegistered bool   `json:"is_registered"`
	Status       string `json:"status,omitempty"`
	PictureURL   string `json:"picture_url,omitempty"`
	VerifiedName string `json:"verified_name,omitempty"`
}

// GetUserProfile resolves a recipient number to its registration status,
// about text, and profile picture URL. Picture and status lookups are best
// effort; a privacy-restricted field comes back empty.
func GetUserProfile(ctx context.Context, instanceID string, recipient string) (*UserProfile, error) {
	session := getSession(instanceID)
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if !session.State().CanSend() {
		return nil, ErrSessionNotReady
	}

	lookupCtx, cancel := context.WithTimeout(ctx, sendRequestTimeout)
	defer cancel()

	remoteJID, err := session.resolveRecipient(lookupCtx, recipient)
	if err != nil {
		if errors.Is(err, ErrRecipientNotRegistered) {
			return &UserProfile{IsRegistered: false}, nil
		}
		return nil, mapSendError(err)
	}

	profile := &UserProfile{
		JID:          remoteJID.String(),
		IsRegistered: true,
	}

	if infos, err := session.client.GetUserInfo(lookupCtx, []types.JID{remoteJID}); err == nil {
		if info, ok := infos[remoteJID]; ok {
			profile.Status = info.Status
			if info.VerifiedName != nil && info.VerifiedName.Details != nil {
				profile.VerifiedName = info.VerifiedName.Details.GetVerifiedName()
			}
		}
	}

	if picture, err := session.client.GetProfilePictureInfo(lookupCtx, remoteJID, &whatsmeow.GetProfilePictureParams{Preview: true}); err == nil && picture != nil {
		profile.PictureURL = picture.URL
	}

	return profile, nil
}
