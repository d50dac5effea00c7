package platform

import (
	"io"
	"net/http"
	"strings"
)

const maxResponseBody = 4 << 20

// Do sends req and returns the status and body. Transport failures come back classified.
func Do(client *http.Client, req *http.Request, stage string) (int, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, ClassifyTransport(stage, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, nil, ClassifyTransport(stage, err)
	}
	return resp.StatusCode, body, nil
}

// Bearer sets the Authorization header for an access token.
func Bearer(req *http.Request, accessToken, tokenType string) {
	if tokenType == "" || strings.EqualFold(tokenType, "bearer") {
		tokenType = "Bearer"
	}
	req.Header.Set("Authorization", tokenType+" "+accessToken)
}

// Caption appends topics to text as hashtags.
func Caption(text string, topics []string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(text))
	for _, t := range topics {
		t = strings.TrimSpace(strings.TrimPrefix(t, "#"))
		if t == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte('#')
		b.WriteString(strings.ReplaceAll(t, " ", ""))
	}
	return b.String()
}
