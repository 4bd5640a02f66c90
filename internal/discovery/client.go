package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/mselser95/blue-liquidator/pkg/types"
	"go.uber.org/zap"
)

// MaxBatchSize is the largest page requested from the Morpho API.
const MaxBatchSize = 100

const whitelistQuery = `query WhitelistedMarkets($chainId: Int!, $first: Int!, $skip: Int!) {
  markets(first: $first, skip: $skip, where: { chainId_in: [$chainId], whitelisted: true }) {
    items { uniqueKey }
  }
}`

const positionsQuery = `query LiquidatablePositions($chainId: Int!, $wNative: String!, $marketIds: [String!], $first: Int!, $skip: Int!) {
  assetByAddress(chainId: $chainId, address: $wNative) { priceUsd }
  marketPositions(
    first: $first
    skip: $skip
    where: { chainId_in: [$chainId], marketUniqueKey_in: $marketIds, healthFactor_lte: 1 }
  ) {
    items {
      user { address }
      state { supplyShares borrowShares collateral }
      market {
        uniqueKey
        oracleAddress
        irmAddress
        lltv
        collateralPrice
        collateralAsset { address decimals symbol priceUsd spotPriceEth }
        loanAsset { address decimals symbol priceUsd spotPriceEth }
        state { supplyAssets supplyShares borrowAssets borrowShares fee timestamp }
      }
    }
  }
}`

// Client is a GraphQL client for the Morpho Blue API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new Morpho API client.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// apiInt decodes the API's BigInt scalar, which arrives as a string or a number.
type apiInt struct {
	*big.Int
}

func (a *apiInt) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "null" || raw == "" {
		a.Int = nil
		return nil
	}

	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return fmt.Errorf("invalid integer %q", raw)
	}
	a.Int = v
	return nil
}

type apiAsset struct {
	Address      string   `json:"address"`
	Decimals     uint8    `json:"decimals"`
	Symbol       string   `json:"symbol"`
	PriceUsd     *float64 `json:"priceUsd"`
	SpotPriceEth *float64 `json:"spotPriceEth"`
}

type apiMarket struct {
	UniqueKey       string    `json:"uniqueKey"`
	OracleAddress   string    `json:"oracleAddress"`
	IrmAddress      string    `json:"irmAddress"`
	Lltv            apiInt    `json:"lltv"`
	CollateralPrice apiInt    `json:"collateralPrice"`
	CollateralAsset *apiAsset `json:"collateralAsset"`
	LoanAsset       *apiAsset `json:"loanAsset"`
	State           *struct {
		SupplyAssets apiInt `json:"supplyAssets"`
		SupplyShares apiInt `json:"supplyShares"`
		BorrowAssets apiInt `json:"borrowAssets"`
		BorrowShares apiInt `json:"borrowShares"`
		Fee          apiInt `json:"fee"`
		Timestamp    apiInt `json:"timestamp"`
	} `json:"state"`
}

type apiPosition struct {
	User struct {
		Address string `json:"address"`
	} `json:"user"`
	State *struct {
		SupplyShares apiInt `json:"supplyShares"`
		BorrowShares apiInt `json:"borrowShares"`
		Collateral   apiInt `json:"collateral"`
	} `json:"state"`
	Market apiMarket `json:"market"`
}

// PositionsPage collects every page of the liquidatable positions query.
type PositionsPage struct {
	NativePriceUSD *float64
	Positions      []apiPosition
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// WhitelistedMarketIDs fetches every whitelisted market id on chainID.
func (c *Client) WhitelistedMarketIDs(ctx context.Context, chainID int64) ([]types.MarketID, error) {
	var ids []types.MarketID

	for page := 0; ; page++ {
		var data struct {
			Markets struct {
				Items []struct {
					UniqueKey string `json:"uniqueKey"`
				} `json:"items"`
			} `json:"markets"`
		}

		err := c.query(ctx, whitelistQuery, map[string]interface{}{
			"chainId": chainID,
			"first":   MaxBatchSize,
			"skip":    page * MaxBatchSize,
		}, &data)
		if err != nil {
			return nil, fmt.Errorf("fetch whitelist page %d: %w", page, err)
		}

		for _, item := range data.Markets.Items {
			ids = append(ids, common.HexToHash(item.UniqueKey))
		}

		if len(data.Markets.Items) < MaxBatchSize {
			break
		}
	}

	c.logger.Debug("fetched-whitelist", zap.Int("markets", len(ids)))

	return ids, nil
}

// LiquidatablePositions fetches up to limit unhealthy positions in marketIDs,
// paging MaxBatchSize at a time. A limit of 0 fetches every page.
func (c *Client) LiquidatablePositions(
	ctx context.Context,
	chainID int64,
	wNative common.Address,
	marketIDs []types.MarketID,
	limit int,
) (*PositionsPage, error) {
	keys := make([]string, len(marketIDs))
	for i, id := range marketIDs {
		keys[i] = id.Hex()
	}

	out := &PositionsPage{}
	fetchAll := limit == 0

	for page := 0; ; page++ {
		batch := MaxBatchSize
		if !fetchAll {
			remaining := limit - len(out.Positions)
			if remaining <= 0 {
				break
			}
			if remaining < batch {
				batch = remaining
			}
		}

		var data struct {
			AssetByAddress *struct {
				PriceUsd *float64 `json:"priceUsd"`
			} `json:"assetByAddress"`
			MarketPositions struct {
				Items []apiPosition `json:"items"`
			} `json:"marketPositions"`
		}

		err := c.query(ctx, positionsQuery, map[string]interface{}{
			"chainId":   chainID,
			"wNative":   wNative.Hex(),
			"marketIds": keys,
			"first":     batch,
			"skip":      page * MaxBatchSize,
		}, &data)
		if err != nil {
			return nil, fmt.Errorf("fetch positions page %d: %w", page, err)
		}

		if page == 0 && data.AssetByAddress != nil {
			out.NativePriceUSD = data.AssetByAddress.PriceUsd
		}

		out.Positions = append(out.Positions, data.MarketPositions.Items...)

		c.logger.Debug("fetched-page",
			zap.Int("page", page),
			zap.Int("positions", len(data.MarketPositions.Items)),
			zap.Int("total", len(out.Positions)))

		if len(data.MarketPositions.Items) < batch {
			break
		}
	}

	return out, nil
}

func (c *Client) query(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "blue-liquidator/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	var envelope graphQLResponse
	err = json.Unmarshal(body, &envelope)
	if err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if len(envelope.Errors) > 0 {
		messages := make([]string, len(envelope.Errors))
		for i, e := range envelope.Errors {
			messages[i] = e.Message
		}
		return fmt.Errorf("graphql: %s", strings.Join(messages, "; "))
	}

	if len(envelope.Data) == 0 {
		return errors.New("graphql: empty data")
	}

	err = json.Unmarshal(envelope.Data, out)
	if err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}

	return nil
}
