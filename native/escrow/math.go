package escrow

import "github.com/holiman/uint256"

// sharesScale expresses shares in thousandths of the funding limit.
const sharesScale = 1000

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

// checkedAdd returns a+b or ErrArithmeticOverflow. Neither input is mutated.
func checkedAdd(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(cloneAmount(a), cloneAmount(b))
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return sum, nil
}

// checkedSub returns a-b or ErrArithmeticOverflow when b > a.
func checkedSub(a, b *uint256.Int) (*uint256.Int, error) {
	diff, underflow := new(uint256.Int).SubOverflow(cloneAmount(a), cloneAmount(b))
	if underflow {
		return nil, ErrArithmeticOverflow
	}
	return diff, nil
}

// computeShares returns balance*1000/limit truncated toward zero, using a
// 512-bit intermediate so large balances keep full precision. A zero limit
// yields zero shares.
func computeShares(balance, limit *uint256.Int) *uint256.Int {
	if balance == nil || limit == nil || limit.IsZero() {
		return new(uint256.Int)
	}
	shares, _ := new(uint256.Int).MulDivOverflow(balance, uint256.NewInt(sharesScale), limit)
	return shares
}
