package core

import "selfcare/internal/model"

// Selection is the cursor into the contract list and into the accounts of
// the selected contract.
type Selection struct {
	ContractIndex int `json:"contract_index"`
	AccountIndex  int `json:"account_index"`
}

// View is what the selection points at. It is derived on demand and never
// stored.
type View struct {
	Contract *model.Contract `json:"current_contract"`
	Accounts []model.Account `json:"current_accounts"`
	Account  *model.Account  `json:"current_account"`
}

func CurrentContract(contracts []model.Contract, sel Selection) (model.Contract, bool) {
	if sel.ContractIndex < 0 || sel.ContractIndex >= len(contracts) {
		return model.Contract{}, false
	}
	return contracts[sel.ContractIndex], true
}

// AccountsFor keeps accounts whose contract_id equals contractID, in
// their original order.
func AccountsFor(accounts []model.Account, contractID string) []model.Account {
	out := make([]model.Account, 0, len(accounts))
	for _, a := range accounts {
		if a.ContractID == contractID {
			out = append(out, a)
		}
	}
	return out
}

func Derive(contracts []model.Contract, accounts []model.Account, sel Selection) View {
	contract, ok := CurrentContract(contracts, sel)
	if !ok {
		return View{Accounts: []model.Account{}}
	}
	v := View{Contract: &contract, Accounts: AccountsFor(accounts, contract.ID)}
	if sel.AccountIndex >= 0 && sel.AccountIndex < len(v.Accounts) {
		account := v.Accounts[sel.AccountIndex]
		v.Account = &account
	}
	return v
}

// SelectContract moves to contract i and rewinds the account cursor.
func SelectContract(contracts []model.Contract, i int) (Selection, error) {
	if i < 0 || i >= len(contracts) {
		return Selection{}, ErrSelectionOutOfRange
	}
	return Selection{ContractIndex: i}, nil
}

func SelectAccount(contracts []model.Contract, accounts []model.Account, sel Selection, i int) (Selection, error) {
	contract, ok := CurrentContract(contracts, sel)
	if !ok {
		return sel, ErrNoContract
	}
	if i < 0 || i >= len(AccountsFor(accounts, contract.ID)) {
		return sel, ErrSelectionOutOfRange
	}
	sel.AccountIndex = i
	return sel, nil
}

// Clamp pulls a selection back into range after the lists were replaced.
func Clamp(contracts []model.Contract, accounts []model.Account, sel Selection) Selection {
	if sel.ContractIndex < 0 || sel.ContractIndex >= len(contracts) {
		return Selection{}
	}
	n := len(AccountsFor(accounts, contracts[sel.ContractIndex].ID))
	if sel.AccountIndex < 0 || sel.AccountIndex >= n {
		sel.AccountIndex = 0
	}
	return sel
}
