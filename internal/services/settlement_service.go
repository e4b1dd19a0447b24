package services

import (
	"encoding/xml"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lockpool/escrow/internal/models"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
)

// ErrNotSettled is returned when export is requested for a lock that has not
// reached a terminal state.
var ErrNotSettled = errors.New("lock contract is not settled")

// SettlementService renders settled lock contracts as ISO 20022 pacs.008
// credit-transfer documents for reconciliation with external custody rails.
// Export is pure read-side reporting and carries no escrow state transitions.
type SettlementService struct {
	agentBIC string
}

func NewSettlementService(agentBIC string) *SettlementService {
	if agentBIC == "" {
		agentBIC = "LOCKPOOL"
	}
	return &SettlementService{agentBIC: agentBIC}
}

// CreatePacs008 builds the credit-transfer message for a settled lock. The
// debtor is always the custody principal; the creditor is whichever party the
// escrow released the funds to.
func (s *SettlementService) CreatePacs008(lock *models.LockContract) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	if !lock.Settled() {
		return nil, ErrNotSettled
	}

	creditor := lock.Receiver
	if lock.Refunded {
		creditor = lock.Sender
	}

	msgId := uuid.New().String()
	settlementDate := time.Now()
	if lock.SettledAt != nil {
		settlementDate = *lock.SettledAt
	}

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(time.Now()),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(lock.TokenContract),
				Value: float64(lock.Amount),
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(lock.Hashlock)}[0],
					EndToEndId: common.Max35Text(lock.Hashlock),
					TxId:       &[]common.Max35Text{common.Max35Text(lock.Hashlock)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(lock.TokenContract),
					Value: float64(lock.Amount),
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(s.agentBIC)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(DefaultCustodyPrincipal)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(s.agentBIC)}[0],
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(creditor)}[0],
				},
			},
		},
	}

	return doc, nil
}

// ConvertToXML renders an ISO 20022 document as an XML string.
func (s *SettlementService) ConvertToXML(doc any) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}
