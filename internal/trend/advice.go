package trend

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	adviceFirstMeasurement = "Primera medición del día. Vuelve mañana para ver la tendencia."
	adviceAccumulating     = "Acumulando datos. Vuelve mañana para ver la tendencia."
	adviceStable           = "➡️ El dólar se mantiene estable estos días. Buen momento para planificar tus movimientos con calma, sin presiones."

	adviceBullishRoutine = "📈 El dólar sigue subiendo. Esto significa que tus bolívares valen cada día un poco menos. Si planeas comprar USDT para proteger tu dinero, mejor hazlo pronto."
	adviceBearishRoutine = "📉 El dólar bajó un poco (raro en Venezuela). Si no es urgente comprar USDT, puedes esperar a ver si baja más."
)

// advice renders the guidance string for a trend, switching to the urgent
// phrasing when the same-day move exceeds the urgency threshold. The texts
// assume the Venezuelan context: a rising dollar devalues bolívar savings.
func advice(direction Direction, changePercent, urgentPct decimal.Decimal) string {
	absChange := changePercent.Abs()

	switch direction {
	case Bullish:
		if absChange.GreaterThan(urgentPct) {
			return fmt.Sprintf("🚨 ¡Atención! El dólar subió %s%% - Tus bolívares están perdiendo valor rápidamente. Si tienes ahorros en Bs, considera convertirlos a USDT para protegerlos.", absChange.StringFixed(1))
		}
		return adviceBullishRoutine
	case Bearish:
		if absChange.GreaterThan(urgentPct) {
			return fmt.Sprintf("📉 ¡Poco común! El dólar bajó %s%%. Esto no suele durar mucho en Venezuela. Si ya tienes USDT y necesitas Bs, podrías aprovechar la tasa.", absChange.StringFixed(1))
		}
		return adviceBearishRoutine
	default:
		return adviceStable
	}
}
