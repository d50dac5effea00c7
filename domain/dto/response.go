package dto

// Res is the error envelope returned by the API.
type Res struct {
	ResponseCode    string `json:"response_code"`
	ResponseMessage string `json:"response_message"`
}
