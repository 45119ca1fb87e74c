package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/dom/event-portal/internal/domain"
	"github.com/dom/event-portal/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(data))
	require.NoError(t, err)
	return resp
}

func TestAuthHandler_Register(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ts := testutil.NewTestServer(t)

	tests := []struct {
		name           string
		request        map[string]string
		setup          func()
		expectedStatus int
		checkResponse  func(*testing.T, *http.Response)
	}{
		{
			name: "successful registration",
			request: map[string]string{
				"username":    "newuser",
				"password":    "password123",
				"email":       "new@example.com",
				"displayName": "New User",
				"role":        "organizer",
			},
			expectedStatus: http.StatusCreated,
			checkResponse: func(t *testing.T, resp *http.Response) {
				var result testutil.AuthResponse
				testutil.AssertJSONResponse(t, resp, &result)
				assert.Equal(t, "newuser", result.User.Username)
				assert.Equal(t, "New User", result.User.DisplayName)
				assert.Equal(t, "organizer", result.User.Role)
				assert.NotEmpty(t, result.Access)
				assert.NotEmpty(t, result.Refresh)
			},
		},
		{
			name:           "missing username",
			request:        map[string]string{"password": "password123"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "missing password",
			request:        map[string]string{"username": "testuser"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "weak password",
			request:        map[string]string{"username": "testuser", "password": "short"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "admin role refused",
			request:        map[string]string{"username": "testuser", "password": "password123", "role": "admin"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "duplicate username",
			request: map[string]string{
				"username": "existinguser",
				"password": "password123",
			},
			setup: func() {
				testutil.NewUserBuilder().
					WithUsername("existinguser").
					Build(t, ts.DB.DB)
			},
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "empty request body",
			request:        map[string]string{},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts.DB.Truncate(t)

			if tt.setup != nil {
				tt.setup()
			}

			resp := postJSON(t, ts.APIURL("/auth/register"), tt.request)
			defer resp.Body.Close()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.checkResponse != nil {
				tt.checkResponse(t, resp)
			}
		})
	}
}

func TestAuthHandler_Login(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ts := testutil.NewTestServer(t)

	user, rawPassword := testutil.NewUserBuilder().
		WithUsername("loginuser").
		WithPassword("correctpassword").
		WithRole(domain.RoleOrganizer).
		Build(t, ts.DB.DB)

	tests := []struct {
		name           string
		request        map[string]string
		expectedStatus int
		checkResponse  func(*testing.T, *http.Response)
	}{
		{
			name: "successful login",
			request: map[string]string{
				"username": user.Username,
				"password": rawPassword,
			},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, resp *http.Response) {
				var result testutil.AuthResponse
				testutil.AssertJSONResponse(t, resp, &result)
				assert.Equal(t, user.ID.String(), result.User.ID)
				assert.Equal(t, "organizer", result.User.Role)
				assert.NotEmpty(t, result.Access)
				assert.NotEmpty(t, result.Refresh)
			},
		},
		{
			name: "invalid password",
			request: map[string]string{
				"username": user.Username,
				"password": "wrongpassword",
			},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "non-existent user",
			request: map[string]string{
				"username": "nonexistent",
				"password": "anypassword",
			},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "missing username",
			request:        map[string]string{"password": "password123"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "missing password",
			request:        map[string]string{"username": "testuser"},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.APIURL("/auth/login"), tt.request)
			defer resp.Body.Close()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.checkResponse != nil {
				tt.checkResponse(t, resp)
			}
		})
	}
}

func TestAuthHandler_Refresh(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ts := testutil.NewTestServer(t)
	auth := testutil.NewUserBuilder().BuildAndAuthenticate(t, ts)

	tests := []struct {
		name           string
		request        interface{}
		expectedStatus int
	}{
		{name: "valid refresh token", request: map[string]string{"refresh": auth.Refresh}, expectedStatus: http.StatusOK},
		{name: "unknown refresh token", request: map[string]string{"refresh": "nope.nope"}, expectedStatus: http.StatusUnauthorized},
		{name: "missing refresh token", request: map[string]string{}, expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.APIURL("/auth/token/refresh"), tt.request)
			defer resp.Body.Close()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
			if resp.StatusCode == http.StatusOK {
				var result map[string]string
				testutil.AssertJSONResponse(t, resp, &result)
				assert.NotEmpty(t, result["access"])
				assert.NotContains(t, result, "refresh")
			}
		})
	}
}

func TestAuthHandler_Me(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ts := testutil.NewTestServer(t)

	auth := testutil.NewUserBuilder().
		WithUsername("meuser").
		BuildAndAuthenticate(t, ts)

	tests := []struct {
		name           string
		token          string
		expectedStatus int
		checkResponse  func(*testing.T, *http.Response)
	}{
		{
			name:           "successful fetch with valid token",
			token:          auth.Access,
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, resp *http.Response) {
				var result struct {
					ID       string `json:"id"`
					Username string `json:"username"`
					Role     string `json:"role"`
				}
				testutil.AssertJSONResponse(t, resp, &result)
				assert.Equal(t, auth.User.ID, result.ID)
				assert.Equal(t, "meuser", result.Username)
				assert.Equal(t, "participant", result.Role)
			},
		},
		{
			name:           "missing authorization header",
			token:          "",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "invalid token",
			token:          "invalid.token.here",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "malformed token",
			token:          "notajwt",
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.CreateAuthenticatedRequest(t, "GET", ts.APIURL("/auth/me"), nil, tt.token)

			client := &http.Client{}
			resp, err := client.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.checkResponse != nil {
				tt.checkResponse(t, resp)
			}
		})
	}
}

func TestAuthHandler_UpdateProfile(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ts := testutil.NewTestServer(t)
	auth := testutil.NewUserBuilder().BuildAndAuthenticate(t, ts)
	client := &http.Client{}

	t.Run("updates display name", func(t *testing.T) {
		req := testutil.CreateAuthenticatedRequest(t, "PUT", ts.APIURL("/auth/update_profile"),
			map[string]string{"displayName": "Renamed"}, auth.Access)
		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		var result struct {
			DisplayName string `json:"displayName"`
		}
		testutil.AssertJSONResponse(t, resp, &result)
		assert.Equal(t, "Renamed", result.DisplayName)
	})

	t.Run("rejects bad email", func(t *testing.T) {
		req := testutil.CreateAuthenticatedRequest(t, "PUT", ts.APIURL("/auth/update_profile"),
			map[string]string{"email": "bogus"}, auth.Access)
		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		testutil.AssertErrorResponse(t, resp, http.StatusBadRequest, "invalid email")
	})

	t.Run("requires token", func(t *testing.T) {
		req := testutil.CreateAuthenticatedRequest(t, "PUT", ts.APIURL("/auth/update_profile"),
			map[string]string{"displayName": "x"}, "")
		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestAuthHandler_DeleteUser(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ts := testutil.NewTestServer(t)
	auth := testutil.NewUserBuilder().BuildAndAuthenticate(t, ts)
	client := &http.Client{}

	req := testutil.CreateAuthenticatedRequest(t, "DELETE", ts.APIURL("/auth/user"), nil, auth.Access)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	req = testutil.CreateAuthenticatedRequest(t, "GET", ts.APIURL("/auth/me"), nil, auth.Access)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Deleting the account revoked every session, so the token is refused outright.
	req = testutil.CreateAuthenticatedRequest(t, "DELETE", ts.APIURL("/auth/user"), nil, auth.Access)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthHandler_Logout(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ts := testutil.NewTestServer(t)

	auth := testutil.NewUserBuilder().
		WithUsername("logoutuser").
		BuildAndAuthenticate(t, ts)

	tests := []struct {
		name           string
		request        map[string]string
		expectedStatus int
	}{
		{
			name:           "successful logout",
			request:        map[string]string{"refresh": auth.Refresh},
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "repeated logout",
			request:        map[string]string{"refresh": auth.Refresh},
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "missing refresh token",
			request:        map[string]string{},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.APIURL("/auth/logout"), tt.request)
			defer resp.Body.Close()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
		})
	}

	t.Run("refresh token is revoked", func(t *testing.T) {
		resp := postJSON(t, ts.APIURL("/auth/token/refresh"), map[string]string{"refresh": auth.Refresh})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("access token is revoked", func(t *testing.T) {
		req := testutil.CreateAuthenticatedRequest(t, "GET", ts.APIURL("/auth/me"), nil, auth.Access)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestAuthHandler_LogoutKeepsOtherSessions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ts := testutil.NewTestServer(t)
	user, password := testutil.NewUserBuilder().WithUsername("twotabs").Build(t, ts.DB.DB)

	login := func() testutil.AuthResponse {
		resp := postJSON(t, ts.APIURL("/auth/login"), map[string]string{"username": user.Username, "password": password})
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var result testutil.AuthResponse
		testutil.AssertJSONResponse(t, resp, &result)
		return result
	}
	first, second := login(), login()

	resp := postJSON(t, ts.APIURL("/auth/logout"), map[string]string{"refresh": first.Refresh})
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	tests := []struct {
		name           string
		token          string
		expectedStatus int
	}{
		{name: "logged out session", token: first.Access, expectedStatus: http.StatusUnauthorized},
		{name: "sibling session", token: second.Access, expectedStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.CreateAuthenticatedRequest(t, "GET", ts.APIURL("/auth/me"), nil, tt.token)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
		})
	}
}

func TestHealth(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ts := testutil.NewTestServer(t)
	resp, err := http.Get(ts.BaseURL() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
