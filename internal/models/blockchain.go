package models

type ChainName string

const (
	Base     ChainName = "Base"
	Celo     ChainName = "Celo"
	Sapphire ChainName = "Sapphire"
)

func (c ChainName) String() string {
	return string(c)
}
