package telephony

import "testing"

func TestValidateSignatureFormParams(t *testing.T) {
	const (
		token = "auth-token"
		url   = "https://hooks.example.com/v1/webhooks/telephony"
	)
	params := map[string]string{
		"CallSid":    "CA123",
		"CallStatus": "completed",
		"call_id":    "5f0c9d66-1111-2222-3333-444455556666",
	}

	sig := ComputeSignature(token, url, params, nil)
	if !ValidateSignature(token, url, params, nil, sig) {
		t.Fatal("signature over its own computation must validate")
	}

	tampered := map[string]string{}
	for k, v := range params {
		tampered[k] = v
	}
	tampered["CallStatus"] = "failed"
	if ValidateSignature(token, url, tampered, nil, sig) {
		t.Fatal("changed parameters must invalidate the signature")
	}

	if ValidateSignature("other-token", url, params, nil, sig) {
		t.Fatal("a different auth token must invalidate the signature")
	}
	if ValidateSignature(token, url+"?x=1", params, nil, sig) {
		t.Fatal("a different url must invalidate the signature")
	}
}

func TestComputeSignatureParamOrderIndependent(t *testing.T) {
	a := ComputeSignature("t", "https://x/y", map[string]string{"a": "1", "b": "2"}, nil)
	b := ComputeSignature("t", "https://x/y", map[string]string{"b": "2", "a": "1"}, nil)
	if a != b {
		t.Fatal("signature must not depend on map iteration order")
	}
}

func TestValidateSignatureJSONBody(t *testing.T) {
	const (
		token = "auth-token"
		url   = "https://hooks.example.com/v1/webhooks/telephony"
	)
	body := []byte(`{"CallSid":"CA123","CallStatus":"ringing"}`)

	sig := ComputeSignature(token, url, nil, body)
	if !ValidateSignature(token, url, nil, body, sig) {
		t.Fatal("json body signature must validate")
	}
	if ValidateSignature(token, url, nil, []byte(`{}`), sig) {
		t.Fatal("a different body must invalidate the signature")
	}
}

func TestValidateSignatureEmptyHeader(t *testing.T) {
	if ValidateSignature("t", "https://x/y", nil, nil, "") {
		t.Fatal("a missing signature header must never validate")
	}
}
