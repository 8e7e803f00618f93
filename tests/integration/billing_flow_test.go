package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBucketWithoutBalanceIsRejected(t *testing.T) {
	base := baseURL(t)
	client := &http.Client{Timeout: 10 * time.Second}

	email := fmt.Sprintf("nofunds_%d@example.com", time.Now().UnixNano())
	token := SetupTestUser(t, client, base, email, "password123")
	defer CleanupUser(client, base, token)

	body, _ := json.Marshal(map[string]string{"name": "unpaid-bucket", "plan": "start"})
	req, _ := http.NewRequest("POST", base+"/v1/buckets", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	// nothing was provisioned
	req, _ = http.NewRequest("GET", base+"/v1/buckets", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var listResp struct {
		Buckets []json.RawMessage `json:"buckets"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listResp))
	assert.Empty(t, listResp.Buckets)
}

func TestDepositThenCreateChargesFirstMonth(t *testing.T) {
	base := baseURL(t)
	client := &http.Client{Timeout: 10 * time.Second}

	email := fmt.Sprintf("billing_%d@example.com", time.Now().UnixNano())
	token := SetupTestUser(t, client, base, email, "password123")
	defer CleanupUser(client, base, token)

	Deposit(t, client, base, token, 500)
	CreateBucket(t, client, base, token, "paid-bucket", "start")

	req, _ := http.NewRequest("GET", base+"/v1/billing/balance", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var balanceResp struct {
		Balance float64 `json:"balance"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&balanceResp))
	assert.InDelta(t, 301, balanceResp.Balance, 0.001)

	// the ledger recorded both movements and the chain audits clean
	req, _ = http.NewRequest("GET", base+"/v1/billing/history", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var historyResp struct {
		Entries []struct {
			Type         string  `json:"type"`
			BalanceAfter float64 `json:"balance_after"`
		} `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&historyResp))
	require.Len(t, historyResp.Entries, 2)

	req, _ = http.NewRequest("GET", base+"/v1/billing/audit", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAccessKeyLifecycle(t *testing.T) {
	base := baseURL(t)
	client := &http.Client{Timeout: 10 * time.Second}

	email := fmt.Sprintf("keys_%d@example.com", time.Now().UnixNano())
	token := SetupTestUser(t, client, base, email, "password123")
	defer CleanupUser(client, base, token)

	Deposit(t, client, base, token, 500)
	bucketID := CreateBucket(t, client, base, token, "key-bucket", "start")

	body, _ := json.Marshal(map[string]string{"label": "ci"})
	req, _ := http.NewRequest("POST", fmt.Sprintf("%s/v1/buckets/%s/keys", base, bucketID), bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var createdKey struct {
		ID        string `json:"id"`
		AccessKey string `json:"access_key"`
		SecretKey string `json:"secret_key"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&createdKey))
	assert.NotEmpty(t, createdKey.AccessKey)
	assert.NotEmpty(t, createdKey.SecretKey, "secret must be returned on creation")

	// listings never expose the secret again
	req, _ = http.NewRequest("GET", fmt.Sprintf("%s/v1/buckets/%s/keys", base, bucketID), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var listResp struct {
		Keys []struct {
			ID        string `json:"id"`
			SecretKey string `json:"secret_key"`
		} `json:"keys"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listResp))
	require.Len(t, listResp.Keys, 1)
	assert.Empty(t, listResp.Keys[0].SecretKey)

	req, _ = http.NewRequest("DELETE", fmt.Sprintf("%s/v1/buckets/%s/keys/%s", base, bucketID, createdKey.ID), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
