package core

import "fmt"

// User-facing texts. Only this package turns errors into them.
const (
	MsgEmptyCredentials = "Введите логин и пароль"
	MsgLoginFailed      = "Не удалось войти. Проверьте данные и повторите попытку"
	MsgLoadFailed       = "Не удалось загрузить данные"
	MsgRefreshFailed    = "Не удалось обновить данные"
	MsgServicesFailed   = "Не удалось загрузить периодические услуги"
	MsgPaymentFailed    = "Не удалось активировать платеж. Попробуйте позже."
	MsgContractNotFound = "Договор не найден"
	MsgPaymentActivated = "Обещанный платеж активирован"
	MsgSessionExpired   = "Сеанс завершен. Войдите снова"
	MsgMaintenance      = "Ведутся технические работы"

	DefaultDisplayName    = "Абонент Плазмателеком"
	PromiseDescription    = "Пополнение баланса через мобильное приложение"
	PromisePromptTitle    = "Обещанный платеж"
	DefaultPromiseMin     = 50
	DefaultPromiseMax     = 100
	DefaultPromiseInitial = "75"
)

func msgAmountRange(min, max float64) string {
	return fmt.Sprintf("Введите сумму от %g до %g ₽", min, max)
}

func msgLowBalance(balance float64) string {
	return fmt.Sprintf("Низкий баланс: %.2f ₽", balance)
}
