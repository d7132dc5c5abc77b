package bank

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/bank_turns/backend/internal/models"
)

var (
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrAccountNotFound   = errors.New("account not found")
	ErrCardNotFound      = errors.New("card not found")
	ErrInvalidNIP        = errors.New("invalid nip")
	ErrAccountLocked     = errors.New("account locked")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrCardBlocked       = errors.New("card already blocked")
	ErrCardActive        = errors.New("card already active")
	ErrCardInactive      = errors.New("card is not active")
	ErrCreditLimit       = errors.New("credit limit exceeded")
	ErrAccountNotEmpty   = errors.New("account balance is not zero")
)

const maxNIPAttempts = 3

// card number prefixes by tier
var cardPrefix = map[models.CardTier]string{
	models.TierNormal:   "4",
	models.TierGold:     "51",
	models.TierPlatinum: "52",
}

var creditLimit = map[models.CardTier]float64{
	models.TierNormal:   10000,
	models.TierGold:     20000,
	models.TierPlatinum: 50000,
}

type CardKind string

const (
	CardDebit  CardKind = "debit"
	CardCredit CardKind = "credit"
)

type TransactionType string

const (
	TxDeposit     TransactionType = "deposit"
	TxWithdrawal  TransactionType = "withdrawal"
	TxTransferOut TransactionType = "transfer_out"
	TxTransferIn  TransactionType = "transfer_in"
	TxPayment     TransactionType = "payment"
)

type Transaction struct {
	ID           string          `json:"id"`
	Account      string          `json:"account"`
	Type         TransactionType `json:"type"`
	Amount       float64         `json:"amount"`
	Counterparty string          `json:"counterparty,omitempty"`
	TurnID       string          `json:"turn_id,omitempty"`
	At           time.Time       `json:"at"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Accounts  []string  `json:"accounts"`
	CreatedAt time.Time `json:"created_at"`
}

type AccountView struct {
	Number     string        `json:"number"`
	CustomerID string        `json:"customer_id"`
	Balance    float64       `json:"balance"`
	Locked     bool          `json:"locked"`
	Cards      []string      `json:"cards"`
	History    []Transaction `json:"history,omitempty"`
}

// Card is a debit card tied to an account or a credit card tied to a
// customer. Only credit cards carry a limit and an outstanding balance.
type Card struct {
	Number      string          `json:"number"`
	Kind        CardKind        `json:"kind"`
	Account     string          `json:"account,omitempty"`
	CustomerID  string          `json:"customer_id,omitempty"`
	Tier        models.CardTier `json:"tier"`
	Active      bool            `json:"active"`
	CreditLimit float64         `json:"credit_limit,omitempty"`
	Outstanding float64         `json:"outstanding,omitempty"`
}

// account fields are guarded by mu for visibility; exclusion across a whole
// operation comes from the dispatcher holding the account key.
type account struct {
	mu         sync.Mutex
	number     string
	customerID string
	balance    float64
	nipHash    []byte
	attempts   int
	locked     bool
	cards      []string
	history    []Transaction
}

// Ledger is the in-memory record of customers, accounts and cards. Its own
// mutex only guards the registries.
type Ledger struct {
	Logger zerolog.Logger
	// Delay simulates the time a worker spends on each operation.
	Delay time.Duration

	mu          sync.RWMutex
	customers   map[string]*Customer
	accounts    map[string]*account
	cards       map[string]*Card
	accountSeq  int
	cardSeq     int
	nipHashCost int
}

func NewLedger(logger zerolog.Logger) *Ledger {
	return &Ledger{
		Logger:      logger,
		customers:   map[string]*Customer{},
		accounts:    map[string]*account{},
		cards:       map[string]*Card{},
		nipHashCost: bcrypt.DefaultCost,
	}
}

// NewTestLedger uses the cheapest NIP hash so tests stay fast.
func NewTestLedger() *Ledger {
	l := NewLedger(zerolog.Nop())
	l.nipHashCost = bcrypt.MinCost
	return l
}

func (l *Ledger) AddCustomer(name string) Customer {
	c := &Customer{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		CreatedAt: time.Now().UTC(),
	}
	l.mu.Lock()
	l.customers[c.ID] = c
	l.mu.Unlock()
	return *c
}

func (l *Ledger) Customer(id string) (Customer, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.customers[id]
	if !ok {
		return Customer{}, false
	}
	out := *c
	out.Accounts = append([]string(nil), c.Accounts...)
	return out, true
}

// OpenAccount registers a new account for an existing customer and returns
// its number.
func (l *Ledger) OpenAccount(customerID string, initial float64, nip string) (string, error) {
	if initial < 0 {
		return "", fmt.Errorf("%w: negative initial balance", models.ErrInvalidOperation)
	}
	var hash []byte
	if nip != "" {
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(nip), l.nipHashCost)
		if err != nil {
			return "", fmt.Errorf("hash nip: %w", err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.customers[customerID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrCustomerNotFound, customerID)
	}
	l.accountSeq++
	number := fmt.Sprintf("%010d", l.accountSeq)
	l.accounts[number] = &account{
		number:     number,
		customerID: customerID,
		balance:    initial,
		nipHash:    hash,
	}
	c.Accounts = append(c.Accounts, number)
	return number, nil
}

// IssueCard attaches a new active card to the account. Unknown tiers get a
// normal card.
func (l *Ledger) IssueCard(accountNumber string, tier models.CardTier) (Card, error) {
	if _, ok := cardPrefix[tier]; !ok {
		tier = models.TierNormal
	}
	acc, err := l.account(accountNumber)
	if err != nil {
		return Card{}, err
	}

	l.mu.Lock()
	card := &Card{Number: l.nextCardNumberLocked(tier), Kind: CardDebit, Account: accountNumber, Tier: tier, Active: true}
	l.cards[card.Number] = card
	l.mu.Unlock()

	acc.mu.Lock()
	acc.cards = append(acc.cards, card.Number)
	acc.mu.Unlock()
	return *card, nil
}

// IssueCreditCard gives the customer an active credit card with the limit of
// its tier. Unknown tiers get a normal card.
func (l *Ledger) IssueCreditCard(customerID string, tier models.CardTier) (Card, error) {
	if _, ok := cardPrefix[tier]; !ok {
		tier = models.TierNormal
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.customers[customerID]; !ok {
		return Card{}, fmt.Errorf("%w: %s", ErrCustomerNotFound, customerID)
	}
	card := &Card{
		Number:      l.nextCardNumberLocked(tier),
		Kind:        CardCredit,
		CustomerID:  customerID,
		Tier:        tier,
		Active:      true,
		CreditLimit: creditLimit[tier],
	}
	l.cards[card.Number] = card
	return *card, nil
}

func (l *Ledger) nextCardNumberLocked(tier models.CardTier) string {
	l.cardSeq++
	prefix := cardPrefix[tier]
	return prefix + fmt.Sprintf("%0*d", 16-len(prefix), l.cardSeq)
}

// ActivateCard re-enables a blocked card.
func (l *Ledger) ActivateCard(number string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	card, ok := l.cards[number]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCardNotFound, number)
	}
	if card.Active {
		return fmt.Errorf("%w: %s", ErrCardActive, number)
	}
	card.Active = true
	return nil
}

// Pay charges amount to a card. Debit cards draw from their account after a
// NIP check; credit cards draw from the available credit.
func (l *Ledger) Pay(turnID, number string, amount float64, merchant, nip string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: non-positive amount", models.ErrInvalidOperation)
	}
	l.mu.Lock()
	card, ok := l.cards[number]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrCardNotFound, number)
	}
	if !card.Active {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrCardInactive, number)
	}
	if card.Kind == CardCredit {
		defer l.mu.Unlock()
		if card.Outstanding+amount > card.CreditLimit {
			return fmt.Errorf("%w: %s has %.2f available", ErrCreditLimit, number, card.CreditLimit-card.Outstanding)
		}
		card.Outstanding += amount
		return nil
	}
	accountNumber := card.Account
	l.mu.Unlock()

	acc, err := l.account(accountNumber)
	if err != nil {
		return err
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	if err := acc.checkNIP(nip); err != nil {
		return err
	}
	if acc.balance < amount {
		return fmt.Errorf("%w: %s has %.2f", ErrInsufficientFunds, accountNumber, acc.balance)
	}
	acc.balance -= amount
	acc.record(TxPayment, amount, merchant, turnID)
	return nil
}

// CloseAccount removes an empty account and deactivates its debit cards.
func (l *Ledger) CloseAccount(number string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[number]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, number)
	}
	acc.mu.Lock()
	balance, cards := acc.balance, append([]string(nil), acc.cards...)
	acc.mu.Unlock()
	if balance != 0 {
		return fmt.Errorf("%w: %s has %.2f", ErrAccountNotEmpty, number, balance)
	}

	delete(l.accounts, number)
	for _, n := range cards {
		if card, ok := l.cards[n]; ok {
			card.Active = false
		}
	}
	if c, ok := l.customers[acc.customerID]; ok {
		kept := c.Accounts[:0]
		for _, a := range c.Accounts {
			if a != number {
				kept = append(kept, a)
			}
		}
		c.Accounts = kept
	}
	return nil
}

func (l *Ledger) BlockCard(number string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	card, ok := l.cards[number]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCardNotFound, number)
	}
	if !card.Active {
		return fmt.Errorf("%w: %s", ErrCardBlocked, number)
	}
	card.Active = false
	return nil
}

func (l *Ledger) Card(number string) (Card, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	card, ok := l.cards[number]
	if !ok {
		return Card{}, false
	}
	return *card, true
}

// Account returns a copy of the account with its full history.
func (l *Ledger) Account(number string) (AccountView, bool) {
	acc, err := l.account(number)
	if err != nil {
		return AccountView{}, false
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return AccountView{
		Number:     acc.number,
		CustomerID: acc.customerID,
		Balance:    acc.balance,
		Locked:     acc.locked,
		Cards:      append([]string{}, acc.cards...),
		History:    append([]Transaction(nil), acc.history...),
	}, true
}

// Statement returns the latest transactions, newest first.
func (l *Ledger) Statement(number string, limit int) ([]Transaction, error) {
	acc, err := l.account(number)
	if err != nil {
		return nil, err
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	out := make([]Transaction, 0, len(acc.history))
	for i := len(acc.history) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, acc.history[i])
	}
	return out, nil
}

func (l *Ledger) Deposit(turnID, number string, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: non-positive amount", models.ErrInvalidOperation)
	}
	acc, err := l.account(number)
	if err != nil {
		return err
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	acc.balance += amount
	acc.record(TxDeposit, amount, "", turnID)
	return nil
}

func (l *Ledger) Withdraw(turnID, number string, amount float64, nip string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: non-positive amount", models.ErrInvalidOperation)
	}
	acc, err := l.account(number)
	if err != nil {
		return err
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	if err := acc.checkNIP(nip); err != nil {
		return err
	}
	if acc.balance < amount {
		return fmt.Errorf("%w: %s has %.2f", ErrInsufficientFunds, number, acc.balance)
	}
	acc.balance -= amount
	acc.record(TxWithdrawal, amount, "", turnID)
	return nil
}

// Transfer moves amount between two accounts. The caller must hold both
// account keys; each account's own mutex is taken one at a time.
func (l *Ledger) Transfer(turnID, from, to string, amount float64, nip string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: non-positive amount", models.ErrInvalidOperation)
	}
	src, err := l.account(from)
	if err != nil {
		return err
	}
	dst, err := l.account(to)
	if err != nil {
		return err
	}

	src.mu.Lock()
	if err := src.checkNIP(nip); err != nil {
		src.mu.Unlock()
		return err
	}
	if src.balance < amount {
		bal := src.balance
		src.mu.Unlock()
		return fmt.Errorf("%w: %s has %.2f", ErrInsufficientFunds, from, bal)
	}
	src.balance -= amount
	src.record(TxTransferOut, amount, to, turnID)
	src.mu.Unlock()

	dst.mu.Lock()
	dst.balance += amount
	dst.record(TxTransferIn, amount, from, turnID)
	dst.mu.Unlock()
	return nil
}

func (l *Ledger) Balance(number string) (float64, error) {
	acc, err := l.account(number)
	if err != nil {
		return 0, err
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.balance, nil
}

// Execute runs one operation on behalf of a turn.
func (l *Ledger) Execute(ctx context.Context, turn *models.Turn, op models.Operation) error {
	if err := l.wait(ctx); err != nil {
		return err
	}

	log := l.Logger.With().Str("turn_id", turn.ID).Str("op", string(op.Type)).Logger()
	switch op.Type {
	case models.OpDeposit:
		return l.Deposit(turn.ID, op.Account, op.Amount)
	case models.OpWithdrawal:
		return l.Withdraw(turn.ID, op.Account, op.Amount, op.NIP)
	case models.OpTransfer:
		return l.Transfer(turn.ID, op.Account, op.TargetAccount, op.Amount, op.NIP)
	case models.OpBalanceInquiry:
		bal, err := l.Balance(op.Account)
		if err != nil {
			return err
		}
		log.Info().Str("account", op.Account).Float64("balance", bal).Msg("balance inquiry")
		return nil
	case models.OpStatement:
		txs, err := l.Statement(op.Account, 10)
		if err != nil {
			return err
		}
		log.Info().Str("account", op.Account).Int("transactions", len(txs)).Msg("statement generated")
		return nil
	case models.OpOpenAccount:
		number, err := l.OpenAccount(op.CustomerID, op.InitialBalance, op.NIP)
		if err != nil {
			return err
		}
		log.Info().Str("customer_id", op.CustomerID).Str("account", number).Msg("account opened")
		return nil
	case models.OpIssueCard:
		card, err := l.IssueCard(op.Account, op.Tier)
		if err != nil {
			return err
		}
		log.Info().Str("account", op.Account).Str("tier", string(card.Tier)).Msg("card issued")
		return nil
	case models.OpBlockCard:
		return l.BlockCard(op.Card)
	case models.OpActivateCard:
		return l.ActivateCard(op.Card)
	case models.OpPayment:
		return l.Pay(turn.ID, op.Card, op.Amount, op.Merchant, op.NIP)
	case models.OpCloseAccount:
		if err := l.CloseAccount(op.Account); err != nil {
			return err
		}
		log.Info().Str("account", op.Account).Msg("account closed")
		return nil
	case models.OpIssueCredit:
		card, err := l.IssueCreditCard(op.CustomerID, op.Tier)
		if err != nil {
			return err
		}
		log.Info().Str("customer_id", op.CustomerID).Str("tier", string(card.Tier)).Float64("limit", card.CreditLimit).Msg("credit card issued")
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", models.ErrInvalidOperation, op.Type)
	}
}

func (l *Ledger) wait(ctx context.Context) error {
	if l.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(l.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *Ledger) account(number string) (*account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acc, ok := l.accounts[number]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, number)
	}
	return acc, nil
}

// checkNIP locks the account after maxNIPAttempts consecutive failures.
// Accounts opened without a NIP accept any value.
func (a *account) checkNIP(nip string) error {
	if a.locked {
		return fmt.Errorf("%w: %s", ErrAccountLocked, a.number)
	}
	if a.nipHash == nil {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword(a.nipHash, []byte(nip)); err != nil {
		a.attempts++
		if a.attempts >= maxNIPAttempts {
			a.locked = true
		}
		return fmt.Errorf("%w: %s", ErrInvalidNIP, a.number)
	}
	a.attempts = 0
	return nil
}

func (a *account) record(t TransactionType, amount float64, counterparty, turnID string) {
	a.history = append(a.history, Transaction{
		ID:           uuid.NewString(),
		Account:      a.number,
		Type:         t,
		Amount:       amount,
		Counterparty: counterparty,
		TurnID:       turnID,
		At:           time.Now().UTC(),
	})
}
