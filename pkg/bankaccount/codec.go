package bankaccount

import (
	"encoding/json"
	"fmt"

	"github.com/plaenen/bankledger/pkg/bankerrors"
)

// EncodePayload serializes an event payload to its canonical JSON form.
// Struct field tags already produce camelCase keys; encoding/json does
// the rest.
func EncodePayload(payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode payload: %v", bankerrors.ErrCodecError, err)
	}
	return data, nil
}

// DecodePayload deserializes raw JSON into a new instance of the payload
// type registered for eventType. Unknown type tags are fatal (CodecError),
// per the codec's closed-set contract. encoding/json performs
// case-insensitive key matching by default, satisfying the "decoding is
// case-insensitive on keys" requirement.
func DecodePayload(eventType string, data []byte) (any, error) {
	var payload any
	switch eventType {
	case EventBankAccountOpened:
		payload = &BankAccountOpenedPayload{}
	case EventMoneyDeposited:
		payload = &MoneyDepositedPayload{}
	case EventMoneyWithdrawn:
		payload = &MoneyWithdrawnPayload{}
	case EventAccountFrozen:
		payload = &AccountFrozenPayload{}
	case EventAccountUnfrozen:
		payload = &AccountUnfrozenPayload{}
	case EventAccountClosed:
		payload = &AccountClosedPayload{}
	case EventOverdraftLimitChanged:
		payload = &OverdraftLimitChangedPayload{}
	case EventAccountHolderNameChanged:
		payload = &AccountHolderNameChangedPayload{}
	case EventFeeApplied:
		payload = &FeeAppliedPayload{}
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", bankerrors.ErrCodecError, eventType)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, payload); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", bankerrors.ErrCodecError, eventType, err)
		}
	}
	return payload, nil
}

// IsKnownEventType reports whether tag is one of the nine canonical
// event types.
func IsKnownEventType(tag string) bool {
	switch tag {
	case EventBankAccountOpened, EventMoneyDeposited, EventMoneyWithdrawn,
		EventAccountFrozen, EventAccountUnfrozen, EventAccountClosed,
		EventOverdraftLimitChanged, EventAccountHolderNameChanged, EventFeeApplied:
		return true
	default:
		return false
	}
}
