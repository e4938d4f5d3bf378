package services

import (
	"encoding/xml"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatewayResponse(code, description, original string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<S:Envelope xmlns:S="http://schemas.xmlsoap.org/soap/envelope/">
  <S:Body>
    <ns2:gwOperationResponse xmlns:ns2="http://webservice.bccsgw.viettel.com/">
      <Result>
        <error>%s</error>
        <description>%s</description>
        <original><![CDATA[%s]]></original>
      </Result>
    </ns2:gwOperationResponse>
  </S:Body>
</S:Envelope>`, code, description, original)
}

func innerReturn(fields string) string {
	return `<S:Envelope xmlns:S="http://schemas.xmlsoap.org/soap/envelope/"><S:Body>` +
		`<ns2:serviceResponse xmlns:ns2="http://services.wsfw.vas.viettel.com/"><return>` +
		fields +
		`</return></ns2:serviceResponse></S:Body></S:Envelope>`
}

func TestBuildGatewayRequest(t *testing.T) {
	params := []GatewayParam{
		{Name: "partnerCode", Value: "P01"},
		{Name: "msisdn", Value: "258861234567"},
		{Name: "smsContent", Value: `Pay <now> & "later"`},
	}

	payload, err := BuildGatewayRequest(GatewayCredentials{Username: "user", Password: "p&ss"}, EmolaWSC2B, params)
	require.NoError(t, err)
	body := string(payload)

	assert.True(t, strings.HasPrefix(body, xml.Header))
	assert.Contains(t, body, `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:web="http://webservice.bccsgw.viettel.com/">`)
	assert.Contains(t, body, `<soapenv:Header></soapenv:Header>`)
	assert.Contains(t, body, `<soapenv:Body><web:gwOperation><Input><username>user</username><password>p&amp;ss</password><wscode>pushUssdMessage</wscode>`)
	assert.Contains(t, body, `<param name="partnerCode" value="P01"></param><param name="msisdn" value="258861234567"></param>`)
	assert.Contains(t, body, `<rawData></rawData>`)
	assert.NotContains(t, body, `<now>`)

	var decoded struct {
		Body struct {
			Operation struct {
				Input struct {
					Password string         `xml:"password"`
					Params   []GatewayParam `xml:"param"`
				} `xml:"Input"`
			} `xml:"gwOperation"`
		} `xml:"Body"`
	}
	require.NoError(t, xml.Unmarshal(payload, &decoded))
	assert.Equal(t, "p&ss", decoded.Body.Operation.Input.Password)
	assert.Equal(t, params, decoded.Body.Operation.Input.Params)
}

func TestBuildGatewayRequest_Invalid(t *testing.T) {
	creds := GatewayCredentials{Username: "u", Password: "p"}

	_, err := BuildGatewayRequest(creds, "", nil)
	assert.Error(t, err)

	_, err = BuildGatewayRequest(creds, EmolaWSC2B, []GatewayParam{{Name: "", Value: "x"}})
	assert.Error(t, err)

	_, err = BuildGatewayRequest(creds, EmolaWSC2B, []GatewayParam{{Name: "msisdn", Value: "25886\x00"}})
	assert.Error(t, err)
}

func TestParseGatewayResponse_InnerSuccess(t *testing.T) {
	body := gatewayResponse("0", "success", innerReturn(
		`<errorCode>0</errorCode><message>Processed</message><requestId>REQ-77</requestId>`))

	reply, err := ParseGatewayResponse([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, "0", reply.Code)
	assert.Equal(t, "success", reply.Description)
	require.NotNil(t, reply.Inner)
	assert.Equal(t, "0", reply.Inner.ErrorCode)
	assert.Equal(t, "Processed", reply.Inner.Message)
	assert.Equal(t, "REQ-77", reply.Inner.RequestID)
}

func TestParseGatewayResponse_EscapedOriginal(t *testing.T) {
	inner := innerReturn(`<errorCode>0</errorCode><balance>1500.00</balance>`)
	var escaped strings.Builder
	require.NoError(t, xml.EscapeText(&escaped, []byte(inner)))

	body := `<Envelope><Body><gwOperationResponse><Result><error>0</error><description>ok</description>` +
		`<original>` + escaped.String() + `</original></Result></gwOperationResponse></Body></Envelope>`

	reply, err := ParseGatewayResponse([]byte(body))
	require.NoError(t, err)
	require.NotNil(t, reply.Inner)
	assert.Equal(t, "1500.00", reply.Inner.Balance)
}

func TestParseGatewayResponse_LegacyRequestIDSpelling(t *testing.T) {
	body := gatewayResponse("0", "success", innerReturn(`<errorCode>0</errorCode><reqeustId>OLD-1</reqeustId>`))

	reply, err := ParseGatewayResponse([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "OLD-1", reply.Inner.RequestID)
}

func TestParseGatewayResponse_OuterErrorSkipsInner(t *testing.T) {
	body := gatewayResponse("22", "Authentication failed", "this is <<< not xml")

	reply, err := ParseGatewayResponse([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, "22", reply.Code)
	assert.Equal(t, "Authentication failed", reply.Description)
	assert.Nil(t, reply.Inner)
}

func TestParseGatewayResponse_OuterOKWithoutOriginal(t *testing.T) {
	reply, err := ParseGatewayResponse([]byte(gatewayResponse("0", "accepted", "")))
	require.NoError(t, err)
	assert.Nil(t, reply.Inner)
}

func TestParseGatewayResponse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty", body: ""},
		{name: "not xml", body: "Service Unavailable"},
		{name: "truncated", body: `<S:Envelope><S:Body><gwOperationResponse><Result><error>0`},
		{name: "no result", body: `<Envelope><Body><somethingElse/></Body></Envelope>`},
		{name: "no error element", body: `<Envelope><Body><gwOperationResponse><Result><description>x</description></Result></gwOperationResponse></Body></Envelope>`},
		{name: "inner malformed", body: gatewayResponse("0", "success", "<return><errorCode>0</errorCode>")},
		{name: "inner without return", body: gatewayResponse("0", "success", "<S:Envelope><S:Body/></S:Envelope>")},
		{name: "inner without error code", body: gatewayResponse("0", "success", innerReturn("<message>hi</message>"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseGatewayResponse([]byte(tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSOAPParse)
		})
	}
}
