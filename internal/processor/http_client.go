package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"payment-server/internal/logger"
)

const serviceName = "payment-processor"

// guestSendRequest is the wire body of the guest send endpoint
type guestSendRequest struct {
	ClientID             string `json:"client_id"`
	ClientSecret         string `json:"client_secret"`
	DestinationID        string `json:"destinationId"`
	Amount               string `json:"amount"`
	FirstName            string `json:"firstName"`
	LastName             string `json:"lastName"`
	EmailAddress         string `json:"emailAddress"`
	RoutingNumber        string `json:"routingNumber"`
	AccountNumber        string `json:"accountNumber"`
	AccountType          string `json:"accountType"`
	Notes                string `json:"notes"`
	GroupID              string `json:"groupId"`
	FacilitatorAmount    string `json:"facilitatorAmount"`
	AssumeCosts          bool   `json:"assumeCosts"`
	AssumeAdditionalFees bool   `json:"assumeAdditionalFees"`
}

type guestSendResponse struct {
	Success  bool   `json:"Success"`
	Message  string `json:"Message"`
	Response any    `json:"Response"`
}

// HTTPClient talks to the processor's guest send API
type HTTPClient struct {
	url          string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

func NewHTTPClient(url, clientID, clientSecret string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		url:          url,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Send(ctx context.Context, req *PaymentRequest) (*PaymentResult, error) {
	body, err := json.Marshal(guestSendRequest{
		ClientID:             c.clientID,
		ClientSecret:         c.clientSecret,
		DestinationID:        req.DestinationID,
		Amount:               req.Amount.StringFixed(2),
		FirstName:            req.FirstName,
		LastName:             req.LastName,
		EmailAddress:         req.Email,
		RoutingNumber:        req.Account.RoutingNumber,
		AccountNumber:        req.Account.AccountNumber,
		AccountType:          string(req.Account.AccountType),
		Notes:                req.Notes,
		GroupID:              req.GroupID,
		FacilitatorAmount:    req.FacilitatorFee.StringFixed(2),
		AssumeCosts:          req.AssumeCosts,
		AssumeAdditionalFees: req.AssumeAdditionalFees,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build payment request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Idempotency-Key", IdempotencyKey(req.TransactionID))

	logger.ExternalServiceCall(serviceName, "GuestSend", "transaction_id", req.TransactionID, "group_id", req.GroupID)
	result, err := c.do(httpReq)
	logger.ExternalServiceResult(serviceName, "GuestSend", err, "transaction_id", req.TransactionID)
	return result, err
}

func (c *HTTPClient) do(req *http.Request) (*PaymentResult, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payment request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read payment response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("processor returned status %d", resp.StatusCode)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out guestSendResponse
	if err := dec.Decode(&out); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("processor returned status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to parse payment response: %w", err)
	}
	if !out.Success {
		msg := strings.TrimSpace(out.Message)
		if msg == "" {
			msg = fmt.Sprintf("processor rejected payment (status %d)", resp.StatusCode)
		}
		return nil, &RejectedError{Message: msg}
	}
	if out.Response == nil {
		return nil, fmt.Errorf("processor response is missing a transaction id")
	}
	return &PaymentResult{ProcessorTransactionID: fmt.Sprint(out.Response)}, nil
}
