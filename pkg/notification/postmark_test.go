package notification_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/notification"
)

func TestNewPostmarkSender_ValidConfig(t *testing.T) {
	t.Parallel()

	sender, err := notification.NewPostmarkSender(notification.EmailConfig{
		PostmarkServerToken:  "test-server-token",
		PostmarkAccountToken: "test-account-token",
		SenderEmail:          "billing@example.com",
		SupportEmail:         "support@example.com",
	})
	require.NoError(t, err)
	assert.NotNil(t, sender)
}

func TestNewPostmarkSender_InvalidConfig(t *testing.T) {
	t.Parallel()

	valid := notification.EmailConfig{
		PostmarkServerToken:  "test-server-token",
		PostmarkAccountToken: "test-account-token",
		SenderEmail:          "billing@example.com",
		SupportEmail:         "support@example.com",
	}

	t.Run("empty server token", func(t *testing.T) {
		t.Parallel()
		cfg := valid
		cfg.PostmarkServerToken = ""
		_, err := notification.NewPostmarkSender(cfg)
		assert.ErrorIs(t, err, notification.ErrInvalidConfig)
		assert.Contains(t, err.Error(), "PostmarkServerToken is required")
	})

	t.Run("empty account token", func(t *testing.T) {
		t.Parallel()
		cfg := valid
		cfg.PostmarkAccountToken = ""
		_, err := notification.NewPostmarkSender(cfg)
		assert.ErrorIs(t, err, notification.ErrInvalidConfig)
	})

	t.Run("malformed sender email", func(t *testing.T) {
		t.Parallel()
		cfg := valid
		cfg.SenderEmail = "not-an-email"
		_, err := notification.NewPostmarkSender(cfg)
		assert.ErrorIs(t, err, notification.ErrInvalidConfig)
	})

	t.Run("malformed support email", func(t *testing.T) {
		t.Parallel()
		cfg := valid
		cfg.SupportEmail = "@example.com"
		_, err := notification.NewPostmarkSender(cfg)
		assert.ErrorIs(t, err, notification.ErrInvalidConfig)
	})
}
