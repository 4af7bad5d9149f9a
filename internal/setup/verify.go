package setup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Account identifies the remote user a token belongs to.
type Account struct {
	ID       int64
	Username string
	FullName string
}

// String returns a human-readable representation for confirmation prompts.
func (a Account) String() string {
	if a.FullName != "" {
		return fmt.Sprintf("%s (@%s)", a.FullName, a.Username)
	}
	return "@" + a.Username
}

// accountEnvelope is the JSON shape of the /me response. The service wraps
// every payload in its type name.
type accountEnvelope struct {
	User struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
		FullName string `json:"fullname"`
	} `json:"user"`
}

// WhoAmI verifies connectivity and the access token against the reading
// service and returns the account the token belongs to.
func WhoAmI(ctx context.Context, serviceURL, token string) (Account, error) {
	endpoint := strings.TrimRight(serviceURL, "/") + "/me"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Account{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Account{}, fmt.Errorf("connecting to %s: %w", serviceURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return Account{}, fmt.Errorf("invalid access token (HTTP 401)")
	}
	if resp.StatusCode != http.StatusOK {
		return Account{}, fmt.Errorf("unexpected HTTP %d from %s", resp.StatusCode, serviceURL)
	}

	var envelope accountEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return Account{}, fmt.Errorf("parsing account response: %w", err)
	}
	if envelope.User.ID <= 0 {
		return Account{}, fmt.Errorf("account response carried no user id")
	}

	return Account{
		ID:       envelope.User.ID,
		Username: envelope.User.Username,
		FullName: envelope.User.FullName,
	}, nil
}
