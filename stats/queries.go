package stats

import (
	"sort"

	"swap-metrics-indexer/database"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func countUniqueUsers(db *gorm.DB) (int64, error) {
	var n int64
	err := db.Model(&database.TransactionRecord{}).Distinct("from_address").Count(&n).Error
	if err != nil {
		return 0, errors.Wrap(err, "countUniqueUsers")
	}
	return n, nil
}

// sumGasUsed adds the decimal text column exactly, streaming the rows.
func sumGasUsed(db *gorm.DB) (decimal.Decimal, error) {
	rows, err := db.Model(&database.TransactionRecord{}).Select("gas_used").Rows()
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "sumGasUsed")
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var gas string
		if err := rows.Scan(&gas); err != nil {
			return decimal.Zero, errors.Wrap(err, "sumGasUsed: scan")
		}
		d, err := decimal.NewFromString(gas)
		if err != nil {
			return decimal.Zero, errors.Wrapf(err, "sumGasUsed: invalid gas value %q", gas)
		}
		total = total.Add(d)
	}

	return total, errors.Wrap(rows.Err(), "sumGasUsed")
}

func topUsers(db *gorm.DB, limit int) ([]UserCount, error) {
	users := make([]UserCount, 0, limit)
	err := db.Model(&database.TransactionRecord{}).
		Select("from_address AS address, COUNT(*) AS tx_count").
		Group("from_address").
		Order("tx_count DESC, from_address ASC").
		Limit(limit).
		Scan(&users).Error
	if err != nil {
		return nil, errors.Wrap(err, "topUsers")
	}
	return users, nil
}

// dayExpression formats a unix timestamp column as a UTC YYYY-MM-DD day.
func dayExpression(db *gorm.DB) string {
	switch db.Dialector.Name() {
	case "mysql":
		return "DATE_FORMAT(FROM_UNIXTIME(timestamp), '%Y-%m-%d')"
	default:
		return "strftime('%Y-%m-%d', timestamp, 'unixepoch')"
	}
}

type dayTxRow struct {
	Day         string
	TxCount     int64
	UniqueUsers int64
}

type daySwapRow struct {
	Day       string
	SwapCount int64
}

func dailyStats(db *gorm.DB) ([]DailyStats, error) {
	day := dayExpression(db)

	var txRows []dayTxRow
	err := db.Model(&database.TransactionRecord{}).
		Select(day + " AS day, COUNT(*) AS tx_count, COUNT(DISTINCT from_address) AS unique_users").
		Group("day").
		Scan(&txRows).Error
	if err != nil {
		return nil, errors.Wrap(err, "dailyStats: transactions")
	}

	var swapRows []daySwapRow
	err = db.Model(&database.SwapEvent{}).
		Select(day + " AS day, COUNT(*) AS swap_count").
		Group("day").
		Scan(&swapRows).Error
	if err != nil {
		return nil, errors.Wrap(err, "dailyStats: swaps")
	}

	byDay := make(map[string]*DailyStats, len(txRows))
	for _, r := range txRows {
		byDay[r.Day] = &DailyStats{Date: r.Day, TxCount: r.TxCount, UniqueUsers: r.UniqueUsers}
	}
	for _, r := range swapRows {
		d, ok := byDay[r.Day]
		if !ok {
			d = &DailyStats{Date: r.Day}
			byDay[r.Day] = d
		}
		d.SwapCount = r.SwapCount
	}

	daily := make([]DailyStats, 0, len(byDay))
	for _, d := range byDay {
		daily = append(daily, *d)
	}
	sort.Slice(daily, func(i, j int) bool { return daily[i].Date < daily[j].Date })

	return daily, nil
}

type pairRow struct {
	TokenIn   string
	TokenOut  string
	SwapCount int64
}

func topTokenPairs(db *gorm.DB, limit int) ([]TokenPair, error) {
	var rows []pairRow
	err := db.Model(&database.SwapEvent{}).
		Select("token_in, token_out, COUNT(*) AS swap_count").
		Group("token_in, token_out").
		Order("swap_count DESC, token_in ASC, token_out ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "topTokenPairs")
	}

	pairs := make([]TokenPair, 0, len(rows))
	for _, r := range rows {
		volumeIn, volumeOut, err := pairVolumes(db, r.TokenIn, r.TokenOut)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, TokenPair{
			TokenIn:   r.TokenIn,
			TokenOut:  r.TokenOut,
			SwapCount: r.SwapCount,
			VolumeIn:  volumeIn.String(),
			VolumeOut: volumeOut.String(),
		})
	}

	return pairs, nil
}

func pairVolumes(db *gorm.DB, tokenIn, tokenOut string) (decimal.Decimal, decimal.Decimal, error) {
	rows, err := db.Model(&database.SwapEvent{}).
		Select("amount_in, amount_out").
		Where("token_in = ? AND token_out = ?", tokenIn, tokenOut).
		Rows()
	if err != nil {
		return decimal.Zero, decimal.Zero, errors.Wrap(err, "pairVolumes")
	}
	defer rows.Close()

	volumeIn, volumeOut := decimal.Zero, decimal.Zero
	for rows.Next() {
		var amountIn, amountOut string
		if err := rows.Scan(&amountIn, &amountOut); err != nil {
			return decimal.Zero, decimal.Zero, errors.Wrap(err, "pairVolumes: scan")
		}
		in, err := decimal.NewFromString(amountIn)
		if err != nil {
			return decimal.Zero, decimal.Zero, errors.Wrapf(err, "pairVolumes: invalid amount %q", amountIn)
		}
		out, err := decimal.NewFromString(amountOut)
		if err != nil {
			return decimal.Zero, decimal.Zero, errors.Wrapf(err, "pairVolumes: invalid amount %q", amountOut)
		}
		volumeIn = volumeIn.Add(in)
		volumeOut = volumeOut.Add(out)
	}

	return volumeIn, volumeOut, errors.Wrap(rows.Err(), "pairVolumes")
}
