package models

import (
	"errors"
	"fmt"
)

var ErrInvalidOperation = errors.New("invalid operation")

type OperationType string

const (
	OpDeposit        OperationType = "deposit"
	OpWithdrawal     OperationType = "withdrawal"
	OpTransfer       OperationType = "transfer"
	OpBalanceInquiry OperationType = "balance_inquiry"
	OpStatement      OperationType = "statement"
	OpOpenAccount    OperationType = "open_account"
	OpIssueCard      OperationType = "issue_card"
	OpBlockCard      OperationType = "block_card"
	OpActivateCard   OperationType = "activate_card"
	OpPayment        OperationType = "payment"
	OpCloseAccount   OperationType = "close_account"
	OpIssueCredit    OperationType = "issue_credit_card"
)

// Operation is a tagged record: Type selects which of the remaining fields
// are meaningful. Validate enforces the per-type shape.
type Operation struct {
	Type           OperationType `json:"type"`
	Account        string        `json:"account,omitempty"`
	TargetAccount  string        `json:"target_account,omitempty"`
	Amount         float64       `json:"amount,omitempty"`
	NIP            string        `json:"nip,omitempty"`
	CustomerID     string        `json:"customer_id,omitempty"`
	Card           string        `json:"card,omitempty"`
	Tier           CardTier      `json:"tier,omitempty"`
	InitialBalance float64       `json:"initial_balance,omitempty"`
	Merchant       string        `json:"merchant,omitempty"`
}

func Deposit(account string, amount float64) Operation {
	return Operation{Type: OpDeposit, Account: account, Amount: amount}
}

func Withdrawal(account string, amount float64, nip string) Operation {
	return Operation{Type: OpWithdrawal, Account: account, Amount: amount, NIP: nip}
}

func Transfer(from, to string, amount float64, nip string) Operation {
	return Operation{Type: OpTransfer, Account: from, TargetAccount: to, Amount: amount, NIP: nip}
}

func BalanceInquiry(account string) Operation {
	return Operation{Type: OpBalanceInquiry, Account: account}
}

func Statement(account string) Operation {
	return Operation{Type: OpStatement, Account: account}
}

func OpenAccount(customerID string, initialBalance float64, nip string) Operation {
	return Operation{Type: OpOpenAccount, CustomerID: customerID, InitialBalance: initialBalance, NIP: nip}
}

func IssueCard(account string, tier CardTier) Operation {
	return Operation{Type: OpIssueCard, Account: account, Tier: tier}
}

func BlockCard(card string) Operation {
	return Operation{Type: OpBlockCard, Card: card}
}

func ActivateCard(card string) Operation {
	return Operation{Type: OpActivateCard, Card: card}
}

// Payment charges a card: a debit card's account (NIP checked) or a credit
// card's available credit.
func Payment(card string, amount float64, merchant, nip string) Operation {
	return Operation{Type: OpPayment, Card: card, Amount: amount, Merchant: merchant, NIP: nip}
}

func CloseAccount(account string) Operation {
	return Operation{Type: OpCloseAccount, Account: account}
}

func IssueCreditCard(customerID string, tier CardTier) Operation {
	return Operation{Type: OpIssueCredit, CustomerID: customerID, Tier: tier}
}

func (o Operation) Validate() error {
	switch o.Type {
	case OpDeposit:
		if o.Account == "" || o.Amount <= 0 {
			return fmt.Errorf("%w: deposit needs account and positive amount", ErrInvalidOperation)
		}
	case OpWithdrawal:
		if o.Account == "" || o.Amount <= 0 || o.NIP == "" {
			return fmt.Errorf("%w: withdrawal needs account, positive amount and nip", ErrInvalidOperation)
		}
	case OpTransfer:
		if o.Account == "" || o.TargetAccount == "" || o.Amount <= 0 || o.NIP == "" {
			return fmt.Errorf("%w: transfer needs both accounts, positive amount and nip", ErrInvalidOperation)
		}
		if o.Account == o.TargetAccount {
			return fmt.Errorf("%w: transfer to the same account", ErrInvalidOperation)
		}
	case OpBalanceInquiry, OpStatement:
		if o.Account == "" {
			return fmt.Errorf("%w: %s needs account", ErrInvalidOperation, o.Type)
		}
	case OpOpenAccount:
		if o.CustomerID == "" || o.InitialBalance < 0 {
			return fmt.Errorf("%w: open_account needs customer_id and non-negative balance", ErrInvalidOperation)
		}
	case OpIssueCard:
		if o.Account == "" {
			return fmt.Errorf("%w: issue_card needs account", ErrInvalidOperation)
		}
	case OpBlockCard, OpActivateCard:
		if o.Card == "" {
			return fmt.Errorf("%w: %s needs card", ErrInvalidOperation, o.Type)
		}
	case OpPayment:
		if o.Card == "" || o.Amount <= 0 {
			return fmt.Errorf("%w: payment needs card and positive amount", ErrInvalidOperation)
		}
	case OpCloseAccount:
		if o.Account == "" {
			return fmt.Errorf("%w: close_account needs account", ErrInvalidOperation)
		}
	case OpIssueCredit:
		if o.CustomerID == "" {
			return fmt.Errorf("%w: issue_credit_card needs customer_id", ErrInvalidOperation)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidOperation, o.Type)
	}
	return nil
}

// ResourceKeys lists the account/card/customer records the operation mutates
// or reads. The dispatcher locks exactly these while the operation runs. A
// debit payment also moves money out of the card's account; that single
// balance change is atomic under the account's own mutex.
func (o Operation) ResourceKeys() []string {
	switch o.Type {
	case OpTransfer:
		return []string{AccountKey(o.Account), AccountKey(o.TargetAccount)}
	case OpOpenAccount, OpIssueCredit:
		return []string{CustomerKey(o.CustomerID)}
	case OpBlockCard, OpActivateCard, OpPayment:
		return []string{CardKey(o.Card)}
	default:
		if o.Account == "" {
			return nil
		}
		return []string{AccountKey(o.Account)}
	}
}

// AdvisorOnly marks account-management operations; the rest are counter
// (teller) services.
func (o Operation) AdvisorOnly() bool {
	switch o.Type {
	case OpOpenAccount, OpCloseAccount, OpIssueCard, OpIssueCredit, OpBlockCard, OpActivateCard, OpStatement:
		return true
	}
	return false
}

func AccountKey(number string) string { return "account:" + number }

func CardKey(number string) string { return "card:" + number }

func CustomerKey(id string) string { return "customer:" + id }
