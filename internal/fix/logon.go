package fix

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"

	"github.com/quickfixgo/quickfix"
)

const (
	tagHeartBtInt      quickfix.Tag = 108
	tagResetSeqNum     quickfix.Tag = 141
	tagRawDataLength   quickfix.Tag = 95
	tagRawData         quickfix.Tag = 96
	tagUsername        quickfix.Tag = 553
	tagPassword        quickfix.Tag = 554
	defaultHeartbeatIv              = 30
)

// signLogon adds digest credentials to an outgoing Logon:
// RawData = ts "." nonce, Password = base64(sha256(RawData + secret)).
func signLogon(msg *quickfix.Message, apiKey, secret string) {
	if apiKey == "" {
		return
	}
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	nonce := make([]byte, 32)
	_, _ = rand.Read(nonce)
	rawData := ts + "." + base64.StdEncoding.EncodeToString(nonce)

	msg.Body.SetField(tagHeartBtInt, quickfix.FIXInt(defaultHeartbeatIv))
	msg.Body.SetField(tagResetSeqNum, quickfix.FIXString("Y"))
	msg.Body.SetField(tagRawDataLength, quickfix.FIXInt(len(rawData)))
	msg.Body.SetField(tagRawData, quickfix.FIXString(rawData))
	msg.Body.SetField(tagUsername, quickfix.FIXString(apiKey))
	msg.Body.SetField(tagPassword, quickfix.FIXString(logonPassword(rawData, secret)))
}

func logonPassword(rawData, secret string) string {
	sum := sha256.Sum256([]byte(rawData + secret))
	return base64.StdEncoding.EncodeToString(sum[:])
}
