package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// baseURL points the suite at a running API instance, e.g.
// CLOUDHOST_E2E_BASE_URL=http://localhost:8080.
func baseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("CLOUDHOST_E2E_BASE_URL")
	if url == "" {
		t.Skip("CLOUDHOST_E2E_BASE_URL not set, skipping integration test")
	}
	return url
}

// SetupTestUser registers a fresh user and returns its access token.
func SetupTestUser(t *testing.T, client *http.Client, base, email, password string) string {
	t.Helper()

	payload := map[string]string{
		"email":    email,
		"password": password,
	}
	body, _ := json.Marshal(payload)

	req, _ := http.NewRequest("POST", base+"/v1/auth/register", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var registered struct {
		Tokens struct {
			AccessToken string `json:"access_token"`
		} `json:"tokens"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&registered))
	require.NotEmpty(t, registered.Tokens.AccessToken)
	return registered.Tokens.AccessToken
}

// Deposit tops up the user's balance.
func Deposit(t *testing.T, client *http.Client, base, token string, amount float64) {
	t.Helper()

	body, _ := json.Marshal(map[string]any{"amount": amount})
	req, _ := http.NewRequest("POST", base+"/v1/billing/deposit", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

// CreateBucket provisions a bucket on the given plan and returns its id.
func CreateBucket(t *testing.T, client *http.Client, base, token, name, plan string) string {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"name": name, "plan": plan})
	req, _ := http.NewRequest("POST", base+"/v1/buckets", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.ID)
	return created.ID
}

// CleanupUser force-deletes every bucket the user owns.
func CleanupUser(client *http.Client, base, token string) {
	req, _ := http.NewRequest("GET", base+"/v1/buckets", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error fetching buckets for cleanup: %v\n", err)
		return
	}
	defer resp.Body.Close()

	var bucketsResp struct {
		Buckets []struct {
			ID string `json:"id"`
		} `json:"buckets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&bucketsResp); err != nil {
		fmt.Printf("Error decoding buckets: %v\n", err)
		return
	}

	for _, b := range bucketsResp.Buckets {
		req, _ := http.NewRequest("DELETE", fmt.Sprintf("%s/v1/buckets/%s?force=true", base, b.ID), nil)
		req.Header.Set("Authorization", "Bearer "+token)
		client.Do(req)
	}
}
