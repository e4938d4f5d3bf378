package services

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
)

const (
	soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	gatewayNS      = "http://webservice.bccsgw.viettel.com/"

	gatewayOK = "0"
)

// ErrSOAPParse wraps every failure to understand a gateway response, at either layer.
var ErrSOAPParse = errors.New("soap response")

// GatewayCredentials authenticate every gwOperation call.
type GatewayCredentials struct {
	Username string
	Password string
}

// GatewayParam is one name/value pair of a gwOperation input.
type GatewayParam struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type gatewayInput struct {
	Username string         `xml:"username"`
	Password string         `xml:"password"`
	WSCode   string         `xml:"wscode"`
	Params   []GatewayParam `xml:"param"`
	RawData  string         `xml:"rawData"`
}

type gatewayOperation struct {
	Input gatewayInput `xml:"Input"`
}

type gatewayRequestBody struct {
	Operation gatewayOperation `xml:"web:gwOperation"`
}

type gatewayRequestEnvelope struct {
	XMLName xml.Name           `xml:"soapenv:Envelope"`
	SoapNS  string             `xml:"xmlns:soapenv,attr"`
	WebNS   string             `xml:"xmlns:web,attr"`
	Header  struct{}           `xml:"soapenv:Header"`
	Body    gatewayRequestBody `xml:"soapenv:Body"`
}

// BuildGatewayRequest renders a gwOperation SOAP envelope. Values are escaped by the
// encoder, so callers pass them verbatim.
func BuildGatewayRequest(creds GatewayCredentials, wscode string, params []GatewayParam) ([]byte, error) {
	if wscode == "" {
		return nil, errors.New("wscode is required")
	}
	for _, field := range []string{creds.Username, creds.Password, wscode} {
		if err := checkXMLText(field); err != nil {
			return nil, err
		}
	}
	for _, p := range params {
		if p.Name == "" {
			return nil, errors.New("param name is required")
		}
		if err := checkXMLText(p.Name); err != nil {
			return nil, err
		}
		if err := checkXMLText(p.Value); err != nil {
			return nil, fmt.Errorf("param %s: %w", p.Name, err)
		}
	}

	envelope := gatewayRequestEnvelope{
		SoapNS: soapEnvelopeNS,
		WebNS:  gatewayNS,
		Body: gatewayRequestBody{
			Operation: gatewayOperation{
				Input: gatewayInput{
					Username: creds.Username,
					Password: creds.Password,
					WSCode:   wscode,
					Params:   params,
				},
			},
		},
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(envelope); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return buf.Bytes(), nil
}

func checkXMLText(s string) error {
	for _, r := range s {
		if r == unicode.ReplacementChar || (unicode.IsControl(r) && r != '\t' && r != '\n' && r != '\r') {
			return fmt.Errorf("invalid character %q", r)
		}
	}
	return nil
}

// GatewayReply is the decoded outer result plus, when the gateway succeeded, the inner
// service result carried in the original field.
type GatewayReply struct {
	Code        string
	Description string
	Original    string
	Inner       *GatewayInnerResult
}

// GatewayInnerResult is the return element of the embedded service response.
type GatewayInnerResult struct {
	ErrorCode       string
	Message         string
	RequestID       string
	OrgResponseCode string
	Balance         string
}

type gatewayResponseEnvelope struct {
	Body struct {
		Response *struct {
			Result *struct {
				Error       *string `xml:"error"`
				Description string  `xml:"description"`
				Original    string  `xml:"original"`
			} `xml:"Result"`
		} `xml:"gwOperationResponse"`
	} `xml:"Body"`
}

type gatewayInnerReturn struct {
	ErrorCode       *string `xml:"errorCode"`
	Message         string  `xml:"message"`
	RequestID       string  `xml:"requestId"`
	LegacyRequestID string  `xml:"reqeustId"`
	OrgResponseCode string  `xml:"orgResponseCode"`
	Balance         string  `xml:"balance"`
}

// ParseGatewayResponse decodes the outer gwOperation envelope. The inner document is
// only parsed when the outer error code is "0"; any malformed layer yields ErrSOAPParse.
func ParseGatewayResponse(content []byte) (*GatewayReply, error) {
	var envelope gatewayResponseEnvelope
	if err := xml.Unmarshal(content, &envelope); err != nil {
		return nil, fmt.Errorf("%w: outer envelope: %v", ErrSOAPParse, err)
	}

	response := envelope.Body.Response
	if response == nil || response.Result == nil {
		return nil, fmt.Errorf("%w: missing gwOperationResponse result", ErrSOAPParse)
	}
	if response.Result.Error == nil {
		return nil, fmt.Errorf("%w: missing error code", ErrSOAPParse)
	}

	reply := &GatewayReply{
		Code:        strings.TrimSpace(*response.Result.Error),
		Description: strings.TrimSpace(response.Result.Description),
		Original:    response.Result.Original,
	}
	if reply.Code != gatewayOK {
		return reply, nil
	}

	original := strings.TrimSpace(reply.Original)
	if original == "" {
		return reply, nil
	}

	inner, err := parseInnerReturn(original)
	if err != nil {
		return nil, err
	}
	reply.Inner = inner
	return reply, nil
}

func parseInnerReturn(original string) (*GatewayInnerResult, error) {
	original = strings.TrimPrefix(original, "<![CDATA[")
	original = strings.TrimSuffix(original, "]]>")

	decoder := xml.NewDecoder(strings.NewReader(original))
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: inner document has no return element", ErrSOAPParse)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: inner document: %v", ErrSOAPParse, err)
		}

		start, ok := token.(xml.StartElement)
		if !ok || start.Name.Local != "return" {
			continue
		}

		var ret gatewayInnerReturn
		if err := decoder.DecodeElement(&ret, &start); err != nil {
			return nil, fmt.Errorf("%w: inner return: %v", ErrSOAPParse, err)
		}
		if ret.ErrorCode == nil {
			return nil, fmt.Errorf("%w: inner return has no errorCode", ErrSOAPParse)
		}

		requestID := ret.RequestID
		if requestID == "" {
			requestID = ret.LegacyRequestID
		}
		return &GatewayInnerResult{
			ErrorCode:       strings.TrimSpace(*ret.ErrorCode),
			Message:         strings.TrimSpace(ret.Message),
			RequestID:       strings.TrimSpace(requestID),
			OrgResponseCode: strings.TrimSpace(ret.OrgResponseCode),
			Balance:         strings.TrimSpace(ret.Balance),
		}, nil
	}
}
