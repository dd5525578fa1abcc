package report

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admi-n/audit-consensus/src/internal/score"
)

const vaultAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

func TestNewCertificate(t *testing.T) {
	r := Assemble(sampleInputs())
	r.RiskLevel = score.RiskCritical

	c, err := NewCertificate(r, vaultAddress, "QmReportHash")
	require.NoError(t, err)

	assert.Equal(t, common.HexToAddress(vaultAddress), c.AuditedContract)
	assert.Equal(t, uint8(85), c.SecurityScore)
	assert.Equal(t, score.OnChainCritical, c.RiskLevel)
	assert.Equal(t, "CRITICAL", c.RiskLabel)
	assert.NotEqual(t, common.Hash{}, c.ReportHash)

	selector := crypto.Keccak256([]byte("mintCertificate(address,uint8,uint8,string)"))[:4]
	require.Greater(t, len(c.Calldata), 4)
	assert.Equal(t, selector, c.Calldata[:4])

	values, err := certificateABI.Methods[mintMethod].Inputs.Unpack(c.Calldata[4:])
	require.NoError(t, err)
	require.Len(t, values, 4)
	assert.Equal(t, common.HexToAddress(vaultAddress), values[0])
	assert.Equal(t, uint8(85), values[1])
	assert.Equal(t, uint8(score.OnChainCritical), values[2])
	assert.Equal(t, "QmReportHash", values[3])
}

func TestNewCertificate_SafeMapsToLow(t *testing.T) {
	r := Assemble(Inputs{ContractName: "Empty", Source: source, Score: score.NewSynthesizer(nil).Synthesize(nil)})

	c, err := NewCertificate(r, vaultAddress, "QmX")
	require.NoError(t, err)
	assert.Equal(t, score.OnChainLow, c.RiskLevel)
	assert.Equal(t, uint8(100), c.SecurityScore)
}

func TestNewCertificate_Validation(t *testing.T) {
	r := Assemble(sampleInputs())

	_, err := NewCertificate(nil, vaultAddress, "QmX")
	assert.Error(t, err)
	_, err = NewCertificate(r, "not-an-address", "QmX")
	assert.Error(t, err)
	_, err = NewCertificate(r, vaultAddress, " ")
	assert.Error(t, err)
}
