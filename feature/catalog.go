package feature

import (
	"time"

	"github.com/blockberries/finalberry/types"
)

// Builtin identifies a protocol feature known to this node. Ordinals are
// fixed; new builtins are appended.
type Builtin uint32

const (
	PreactivateFeature Builtin = iota
	OnlyLinkToExistingPermission
	ReplaceDeferred
	NoDuplicateDeferredID
	FixLinkauthRestriction
	DisallowEmptyProducerSchedule
	RestrictActionToSelf
	OnlyBillFirstAuthorizer
	ForwardSetcode
	GetSender
	RAMRestrictions
	WebauthnKey
	WTMsigBlockSignatures
	ActionReturnValue
	ConfigurableWasmLimits
	BlockchainParameters
	GetCodeHash
	EVMPrecompiles

	numBuiltins
)

// SubjectiveRestrictions are node-local rules on when a feature may be
// activated. They are not part of the feature digest.
type SubjectiveRestrictions struct {
	EarliestAllowedActivationTime time.Time
	PreactivationRequired         bool
	Enabled                       bool
}

// DefaultRestrictions allow activation at any time once pre-activated.
func DefaultRestrictions() SubjectiveRestrictions {
	return SubjectiveRestrictions{PreactivationRequired: true, Enabled: true}
}

// BuiltinSpec is the catalog entry of a builtin feature.
type BuiltinSpec struct {
	Codename            string
	Description         string
	DescriptionDigest   types.Digest
	Dependencies        []Builtin
	DefaultRestrictions SubjectiveRestrictions
}

var builtinCatalog = makeCatalog()

func makeCatalog() [numBuiltins]BuiltinSpec {
	var c [numBuiltins]BuiltinSpec
	add := func(b Builtin, codename, digest, description string, deps ...Builtin) {
		c[b] = BuiltinSpec{
			Codename:            codename,
			Description:         description,
			DescriptionDigest:   types.MustDigestFromHex(digest),
			Dependencies:        deps,
			DefaultRestrictions: DefaultRestrictions(),
		}
	}

	add(PreactivateFeature, "PREACTIVATE_FEATURE",
		"64fe7df32e9b86be2b296b3f81dfd527f84e82b98e363bc97e40bc7a83733310",
		"Adds a privileged intrinsic that pre-activates a protocol feature by digest.")
	add(OnlyLinkToExistingPermission, "ONLY_LINK_TO_EXISTING_PERMISSION",
		"f3c3d91c4603cde2397268bfed4e662465293aab10cd9416db0d442b8cec2949",
		"Disallows linking an action to a non-existing permission.")
	add(ReplaceDeferred, "REPLACE_DEFERRED",
		"9908b3f8413c8474ab2a6be149d3f4f6d0421d37886033f27d4759c47a26d944",
		"Fixes replacing an existing deferred transaction and its RAM accounting.")
	add(NoDuplicateDeferredID, "NO_DUPLICATE_DEFERRED_ID",
		"45967387ee92da70171efd9fefd1ca8061b5efe6f124d269cd2468b47f1575a0",
		"Keeps the ids of contract generated deferred transactions unique.",
		ReplaceDeferred)
	add(FixLinkauthRestriction, "FIX_LINKAUTH_RESTRICTION",
		"a98241c83511dc86c857221b9372b4aa7cea3aaebc567a48604e1d3db3557050",
		"Removes the linkauth restriction on non-native actions with special names.")
	add(DisallowEmptyProducerSchedule, "DISALLOW_EMPTY_PRODUCER_SCHEDULE",
		"2853617cec3eabd41881eb48882e6fc5e81a0db917d375057864b3befbe29acd",
		"Disallows proposing an empty producer schedule.")
	add(RestrictActionToSelf, "RESTRICT_ACTION_TO_SELF",
		"e71b6712188391994c78d8c722c1d42c477cf091e5601b5cf1befd05721a57f3",
		"Disallows bypassing authorization checks for actions sent to self.")
	add(OnlyBillFirstAuthorizer, "ONLY_BILL_FIRST_AUTHORIZER",
		"2f1f13e291c79da5a2bbad259ed7c1f2d34f697ea460b14b565ac33b063b73e2",
		"Bills CPU and network bandwidth only to the first authorizer of a transaction.")
	add(ForwardSetcode, "FORWARD_SETCODE",
		"898082c59f921d0042e581f00a59d5ceb8be6f1d9c7a45b6f07c0e26eaee0222",
		"Forwards setcode actions to the contract of the system account.")
	add(GetSender, "GET_SENDER",
		"1eab748b95a2e6f4d7cb42065bdee5566af8efddf01a55a0a8d831b823f8828a",
		"Allows a contract to determine the sender of an inline action.")
	add(RAMRestrictions, "RAM_RESTRICTIONS",
		"1812fdb5096fd854a4958eb9d53b43219d114de0e858ce00255bd46569ad2c68",
		"Restricts RAM usage increases of accounts other than the receiver.")
	add(WebauthnKey, "WEBAUTHN_KEY",
		"927fdf78c51e77a899f2db938249fb1f8bb38f4e43d9c1f75b190492080cbc34",
		"Enables WebAuthn keys and signatures.")
	add(WTMsigBlockSignatures, "WTMSIG_BLOCK_SIGNATURES",
		"ab76031cad7a457f4fd5f5fca97a3f03b8a635278e0416f77dcc91eb99a48e10",
		"Allows producers to sign blocks with weighted threshold multi-signature authorities.")
	add(ActionReturnValue, "ACTION_RETURN_VALUE",
		"69b064c5178e2738e144ed6caa9349a3995370d78db29e494b3126ebd9111966",
		"Enables a contract to return a value from an action.")
	add(ConfigurableWasmLimits, "CONFIGURABLE_WASM_LIMITS2",
		"8139e99247b87f18ef7eae99f07f00ea3adf39ed53f4d2da3f44e6aa0bfd7c62",
		"Allows privileged contracts to set the constraints on WebAssembly code.")
	add(BlockchainParameters, "BLOCKCHAIN_PARAMETERS",
		"70787548dcea1a2c52c913a37f74ce99e6caae79110d7ca7b859936a0075b314",
		"Allows privileged contracts to get and set subsets of blockchain parameters.")
	add(GetCodeHash, "GET_CODE_HASH",
		"d2596697fed14a0840013647b99045022ae6a885089f35a7e78da7a43ad76ed4",
		"Allows a contract to read the code hash of an account.")
	add(EVMPrecompiles, "EVM_PRECOMPILES",
		"7fc04d1e925fd57bfe584b0146186560b8e73371af475978196698f2d26cf0a2",
		"Adds host functions supporting the EVM runtime.")

	c[PreactivateFeature].DefaultRestrictions.PreactivationRequired = false
	return c
}

// Builtins returns every builtin in ordinal order
func Builtins() []Builtin {
	out := make([]Builtin, numBuiltins)
	for i := range out {
		out[i] = Builtin(i)
	}
	return out
}

// Spec returns the catalog entry of b
func (b Builtin) Spec() (BuiltinSpec, bool) {
	if b >= numBuiltins {
		return BuiltinSpec{}, false
	}
	return builtinCatalog[b], true
}

// Valid returns true if b is in the catalog
func (b Builtin) Valid() bool {
	return b < numBuiltins
}

func (b Builtin) String() string {
	if spec, ok := b.Spec(); ok {
		return spec.Codename
	}
	return "UNKNOWN_BUILTIN"
}

// BuiltinFromCodename looks up a builtin by codename
func BuiltinFromCodename(codename string) (Builtin, bool) {
	for i, spec := range builtinCatalog {
		if spec.Codename == codename {
			return Builtin(i), true
		}
	}
	return 0, false
}
