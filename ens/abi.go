package ens

const registryABI = `[
  {"inputs":[{"name":"node","type":"bytes32"}],"name":"resolver","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"name":"node","type":"bytes32"}],"name":"owner","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

const resolverABI = `[
  {"inputs":[{"name":"node","type":"bytes32"},{"name":"hash","type":"bytes"}],"name":"setContenthash","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"name":"node","type":"bytes32"}],"name":"contenthash","outputs":[{"name":"","type":"bytes"}],"stateMutability":"view","type":"function"}
]`

const reverseRecordsABI = `[
  {"inputs":[{"name":"addresses","type":"address[]"}],"name":"getNames","outputs":[{"name":"r","type":"string[]"}],"stateMutability":"view","type":"function"}
]`

const nameWrapperABI = `[
  {"inputs":[{"name":"id","type":"uint256"}],"name":"ownerOf","outputs":[{"name":"owner","type":"address"}],"stateMutability":"view","type":"function"}
]`
