package stratum

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name       string
		data       []byte
		wantMethod string
		wantErr    bool
	}{
		{
			name:       "login request",
			data:       []byte(`{"id":1,"jsonrpc":"2.0","method":"login","params":{"login":"4addr","pass":"x","agent":"xmrig/6.21.0"}}`),
			wantMethod: "login",
		},
		{
			name:       "submit request",
			data:       []byte(`{"id":2,"method":"submit","params":{"id":"abc","job_id":"5","nonce":"deadbeef","result":"00ff"}}`),
			wantMethod: "submit",
		},
		{
			name:    "invalid json",
			data:    []byte(`{invalid`),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRequest(tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Method != tt.wantMethod {
				t.Errorf("method = %q, want %q", got.Method, tt.wantMethod)
			}
		})
	}
}

func TestParseSubmitParams(t *testing.T) {
	req, err := ParseRequest([]byte(`{"id":2,"method":"submit","params":{"id":"abc","job_id":"5","nonce":"DEADBEEF","result":"00ff"}}`))
	if err != nil {
		t.Fatalf("ParseRequest() error = %v", err)
	}

	var params SubmitParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		t.Fatalf("params unmarshal error = %v", err)
	}

	if params.ID != "abc" || params.JobID != "5" || params.Nonce != "DEADBEEF" || params.Result != "00ff" {
		t.Errorf("params = %+v", params)
	}
}

func TestResponseCarriesNullError(t *testing.T) {
	data, err := Marshal(NewResponse(1, &StatusResult{Status: "OK"}))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	// Legacy miners require the error field to be present and null
	if !strings.Contains(string(data), `"error":null`) {
		t.Errorf("response %s missing null error field", data)
	}
	if !strings.Contains(string(data), `"status":"OK"`) {
		t.Errorf("response %s missing status", data)
	}
}

func TestErrorResponseShape(t *testing.T) {
	data, err := Marshal(NewErrorResponse(7, ErrorCodeJobNotFound, "job not found"))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded struct {
		ID    any    `json:"id"`
		Error *Error `json:"error"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal error = %v", err)
	}

	if decoded.Error == nil || decoded.Error.Code != ErrorCodeJobNotFound {
		t.Errorf("error envelope = %+v, want code %d", decoded.Error, ErrorCodeJobNotFound)
	}
}

func TestJobNotificationShape(t *testing.T) {
	job := &JobParams{
		Blob:     "00ff",
		JobID:    "42",
		Target:   "711b0d00",
		Algo:     "cn/0",
		Height:   1000,
		SeedHash: "",
	}

	data, err := Marshal(NewJobNotification(job))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded struct {
		JSONRPC string    `json:"jsonrpc"`
		Method  string    `json:"method"`
		Params  JobParams `json:"params"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal error = %v", err)
	}

	if decoded.Method != "job" {
		t.Errorf("method = %q, want job", decoded.Method)
	}
	if decoded.JSONRPC != "2.0" {
		t.Errorf("jsonrpc = %q, want 2.0", decoded.JSONRPC)
	}
	if decoded.Params.JobID != "42" || decoded.Params.Height != 1000 {
		t.Errorf("params = %+v", decoded.Params)
	}
}
