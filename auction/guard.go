package auction

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cloudx-io/cipherbid/core"
)

// accessGuard restricts administrative operations to the auction's owner.
type accessGuard struct {
	owner common.Address
}

func (g accessGuard) requireOwner(caller common.Address) error {
	if caller != g.owner {
		return fmt.Errorf("%w: %s", core.ErrNotOwner, caller.Hex())
	}
	return nil
}
